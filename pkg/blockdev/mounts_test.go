package blockdev

import "testing"

const procMounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
/dev/nvme0n1p1 /boot/efi vfat rw,relatime 0 0
/dev/sdb1 /media/pi/boot vfat rw,nosuid,nodev 0 0
/dev/sdb2 /media/pi/root\040fs ext4 rw,nosuid,nodev 0 0
/dev/sdb /media/whole ext4 rw 0 0
/dev/sdbb1 /media/other vfat rw 0 0
/dev/mmcblk0p1 /media/card vfat rw 0 0
/dev/mmcblk01 /media/bogus vfat rw 0 0
`

func TestParseMountedPartitions(t *testing.T) {
	tests := []struct {
		disk string
		want []string
	}{
		{"/dev/sdb", []string{"/media/pi/boot", "/media/pi/root fs", "/media/whole"}},
		{"/dev/mmcblk0", []string{"/media/card"}},
		{"/dev/nvme0n1", []string{"/", "/boot/efi"}},
		{"/dev/sdc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.disk, func(t *testing.T) {
			parts, err := parseMountedPartitions(procMounts, tt.disk)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(parts) != len(tt.want) {
				t.Fatalf("got %d partitions %+v, want %v", len(parts), parts, tt.want)
			}
			for i, p := range parts {
				if p.Mountpoint != tt.want[i] {
					t.Errorf("mountpoint[%d] = %q, want %q", i, p.Mountpoint, tt.want[i])
				}
			}
		})
	}
}

func TestOnDisk(t *testing.T) {
	tests := []struct {
		device, disk string
		want         bool
	}{
		{"/dev/sdb", "/dev/sdb", true},
		{"/dev/sdb1", "/dev/sdb", true},
		{"/dev/sdb12", "/dev/sdb", true},
		{"/dev/sdbb1", "/dev/sdb", false},
		{"/dev/mmcblk0p1", "/dev/mmcblk0", true},
		{"/dev/mmcblk01", "/dev/mmcblk0", false},
		{"/dev/mmcblk0boot0", "/dev/mmcblk0", false},
		{"tmpfs", "/dev/sdb", false},
	}

	for _, tt := range tests {
		if got := onDisk(tt.device, tt.disk); got != tt.want {
			t.Errorf("onDisk(%q, %q) = %v, want %v", tt.device, tt.disk, got, tt.want)
		}
	}
}
