package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

var (
	// ErrImageTooLarge means the image exceeds the configured ceiling or the target device.
	ErrImageTooLarge = errors.New("image too large")
	// ErrCompressionRatio means an archive expands far more than a disk image should.
	ErrCompressionRatio = errors.New("compression ratio exceeded")
	// ErrInvalidOption means an operator-supplied option is malformed.
	ErrInvalidOption = errors.New("invalid option")
)

var (
	hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	hexPSK        = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Validator guards the flash pipeline against images and options that would
// produce an unusable or truncated card.
type Validator struct {
	maxImageSize        int64
	maxCompressionRatio float64
}

// NewValidator creates a new validator
func NewValidator(maxImageSize int64, maxCompressionRatio float64) *Validator {
	slog.Info("security_validator_init",
		"max_image_size", humanize.IBytes(uint64(maxImageSize)),
		"max_compression_ratio", maxCompressionRatio)

	return &Validator{
		maxImageSize:        maxImageSize,
		maxCompressionRatio: maxCompressionRatio,
	}
}

// ValidateImageSize checks the image against the configured ceiling.
// Unknown sizes (negative) pass; they are bounded by the device instead.
func (v *Validator) ValidateImageSize(size int64) error {
	if size < 0 {
		return nil
	}
	if size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size", humanize.IBytes(uint64(size)),
			"max_image_size", humanize.IBytes(uint64(v.maxImageSize)))
		return fmt.Errorf("%w: %d bytes exceeds max %d", ErrImageTooLarge, size, v.maxImageSize)
	}
	return nil
}

// ValidateFits checks that an image of known size fits on the device.
func (v *Validator) ValidateFits(imageSize, deviceSize int64) error {
	if imageSize < 0 || deviceSize <= 0 {
		slog.Warn("security_fit_check_skipped", "image_size", imageSize, "device_size", deviceSize)
		return nil
	}
	if imageSize > deviceSize {
		slog.Error("security_image_exceeds_device",
			"image_size", humanize.IBytes(uint64(imageSize)),
			"device_size", humanize.IBytes(uint64(deviceSize)))
		return fmt.Errorf("%w: image is %s but device holds %s",
			ErrImageTooLarge, humanize.IBytes(uint64(imageSize)), humanize.IBytes(uint64(deviceSize)))
	}
	return nil
}

// ValidateCompressionRatio checks for compression bombs
func (v *Validator) ValidateCompressionRatio(compressedSize, uncompressedSize int64) error {
	if compressedSize == 0 {
		slog.Error("security_compression_validation_failed", "reason", "zero_compressed_size")
		return fmt.Errorf("%w: compressed size cannot be zero", ErrCompressionRatio)
	}

	ratio := float64(uncompressedSize) / float64(compressedSize)

	if ratio > v.maxCompressionRatio {
		slog.Error("security_compression_bomb_detected",
			"ratio", ratio,
			"max_ratio", v.maxCompressionRatio,
			"compressed_mb", compressedSize/1024/1024,
			"uncompressed_mb", uncompressedSize/1024/1024)
		return fmt.Errorf("%w: ratio %.2f exceeds max %.2f (compressed: %d, uncompressed: %d)",
			ErrCompressionRatio, ratio, v.maxCompressionRatio, compressedSize, uncompressedSize)
	}

	slog.Info("security_compression_validated", "ratio", ratio, "compressed_mb", compressedSize/1024/1024, "uncompressed_mb", uncompressedSize/1024/1024)
	return nil
}

// ValidateHostname checks an RFC 1123 host name of one or more labels.
func (v *Validator) ValidateHostname(hostname string) error {
	if hostname == "" || len(hostname) > 253 {
		slog.Error("security_hostname_rejected", "hostname", hostname, "reason", "length")
		return fmt.Errorf("%w: hostname must be 1-253 characters", ErrInvalidOption)
	}
	for _, label := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(label) {
			slog.Error("security_hostname_rejected", "hostname", hostname, "label", label)
			return fmt.Errorf("%w: hostname label %q is not valid", ErrInvalidOption, label)
		}
	}
	return nil
}

// ValidateWiFi checks a WPA network configuration. Both values empty means no
// WiFi; otherwise both are required. The passphrase is never logged.
func (v *Validator) ValidateWiFi(ssid, passphrase string) error {
	if ssid == "" && passphrase == "" {
		return nil
	}
	if ssid == "" || passphrase == "" {
		slog.Error("security_wifi_rejected", "reason", "incomplete", "ssid", ssid)
		return fmt.Errorf("%w: --wifi-ssid and --wifi-passphrase must be given together", ErrInvalidOption)
	}
	if len(ssid) > 32 {
		slog.Error("security_wifi_rejected", "reason", "ssid_length", "ssid", ssid)
		return fmt.Errorf("%w: ssid must be at most 32 bytes", ErrInvalidOption)
	}
	if hexPSK.MatchString(passphrase) {
		return nil
	}
	if len(passphrase) < 8 || len(passphrase) > 63 {
		slog.Error("security_wifi_rejected", "reason", "passphrase_length", "ssid", ssid)
		return fmt.Errorf("%w: passphrase must be 8-63 characters or 64 hex digits", ErrInvalidOption)
	}
	for _, r := range passphrase {
		if r < 0x20 || r > 0x7e {
			slog.Error("security_wifi_rejected", "reason", "passphrase_charset", "ssid", ssid)
			return fmt.Errorf("%w: passphrase must be printable ASCII", ErrInvalidOption)
		}
	}
	return nil
}
