package blockdev

import "os"

// syncFile flushes the device before closing it.
type syncFile struct {
	*os.File
}

func (f *syncFile) Close() error {
	syncErr := f.File.Sync()
	closeErr := f.File.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
