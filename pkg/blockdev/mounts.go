package blockdev

import (
	"bufio"
	"strconv"
	"strings"
)

// parseMountedPartitions returns the /proc/self/mounts entries that live on
// disk (the disk itself or one of its partitions).
func parseMountedPartitions(mounts, disk string) ([]MountedPartition, error) {
	var result []MountedPartition

	scanner := bufio.NewScanner(strings.NewReader(mounts))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if !onDisk(fields[0], disk) {
			continue
		}
		result = append(result, MountedPartition{
			Device:     fields[0],
			Mountpoint: unescapeMount(fields[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// onDisk reports whether device is disk or one of its partitions:
// /dev/sdb1 on /dev/sdb, /dev/mmcblk0p2 on /dev/mmcblk0.
func onDisk(device, disk string) bool {
	rest, ok := strings.CutPrefix(device, disk)
	if !ok {
		return false
	}
	if rest == "" {
		return true
	}
	if last := disk[len(disk)-1]; last >= '0' && last <= '9' {
		var found bool
		if rest, found = strings.CutPrefix(rest, "p"); !found {
			return false
		}
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// unescapeMount decodes the octal escapes (\040 for space) used in /proc/self/mounts.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
