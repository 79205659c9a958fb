package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateImageSize(t *testing.T) {
	v := NewValidator(100, 10.0)

	tests := []struct {
		size      int64
		shouldErr bool
	}{
		{50, false},
		{100, false},
		{150, true},
		{-1, false},
	}

	for _, tt := range tests {
		err := v.ValidateImageSize(tt.size)
		if tt.shouldErr && !errors.Is(err, ErrImageTooLarge) {
			t.Errorf("size %d: expected ErrImageTooLarge, got %v", tt.size, err)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("size %d: unexpected error %v", tt.size, err)
		}
	}
}

func TestValidateFits(t *testing.T) {
	v := NewValidator(1<<40, 10.0)

	if err := v.ValidateFits(8<<30, 16<<30); err != nil {
		t.Errorf("8G image on 16G card: %v", err)
	}
	if err := v.ValidateFits(16<<30, 16<<30); err != nil {
		t.Errorf("exact fit: %v", err)
	}
	if err := v.ValidateFits(-1, 16<<30); err != nil {
		t.Errorf("unknown image size should pass: %v", err)
	}
	if err := v.ValidateFits(8<<30, 0); err != nil {
		t.Errorf("unknown device size should pass: %v", err)
	}

	err := v.ValidateFits(32<<30, 16<<30)
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "32 GiB") {
		t.Errorf("error should name the image size: %v", err)
	}
}

func TestValidateCompressionRatio(t *testing.T) {
	v := NewValidator(1024, 10.0)

	if err := v.ValidateCompressionRatio(10, 100); err != nil {
		t.Errorf("expected no error for ratio 10.0, got: %v", err)
	}

	if err := v.ValidateCompressionRatio(50, 1000); !errors.Is(err, ErrCompressionRatio) {
		t.Errorf("expected ErrCompressionRatio for ratio 20.0 exceeding limit 10.0, got: %v", err)
	}

	if err := v.ValidateCompressionRatio(0, 1000); !errors.Is(err, ErrCompressionRatio) {
		t.Errorf("expected ErrCompressionRatio for zero compressed size, got: %v", err)
	}
}

func TestValidateHostname(t *testing.T) {
	v := NewValidator(1024, 10.0)

	tests := []struct {
		hostname  string
		shouldErr bool
	}{
		{"boxel", false},
		{"boxel-01", false},
		{"kitchen.boxel.local", false},
		{"", true},
		{"-boxel", true},
		{"boxel-", true},
		{"box_el", true},
		{"box el", true},
		{"a..b", true},
		{strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		err := v.ValidateHostname(tt.hostname)
		if tt.shouldErr && !errors.Is(err, ErrInvalidOption) {
			t.Errorf("hostname %q: expected ErrInvalidOption, got %v", tt.hostname, err)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("hostname %q: unexpected error %v", tt.hostname, err)
		}
	}
}

func TestValidateWiFi(t *testing.T) {
	v := NewValidator(1024, 10.0)

	tests := []struct {
		name       string
		ssid       string
		passphrase string
		shouldErr  bool
	}{
		{"no wifi", "", "", false},
		{"valid", "home", "correct horse", false},
		{"hex psk", "home", strings.Repeat("ab", 32), false},
		{"ssid only", "home", "", true},
		{"passphrase only", "", "correct horse", true},
		{"short passphrase", "home", "short", true},
		{"long passphrase", "home", strings.Repeat("x", 64), true},
		{"long ssid", strings.Repeat("s", 33), "correct horse", true},
		{"non ascii", "home", "pässwörd-long", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateWiFi(tt.ssid, tt.passphrase)
			if tt.shouldErr && !errors.Is(err, ErrInvalidOption) {
				t.Errorf("expected ErrInvalidOption, got %v", err)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}
