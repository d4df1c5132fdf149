package v4l2uapi

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	sys "golang.org/x/sys/unix"
)

// OpenDevice offers a simpler file-open operation than the Go API's
// os.OpenFile (which causes some drivers to return busy). It validates that
// the path is a character device before opening it.
func OpenDevice(path string, flags int, mode uint32) (uintptr, error) {
	fstat, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("open device: %w", err)
	}

	if fstat.Mode()&fs.ModeCharDevice == 0 {
		return 0, fmt.Errorf("device open: %s: not character device", path)
	}

	return openDev(path, flags, mode)
}

// openDev offers a simpler file open operation than the Go API OpenFile.
// See https://cs.opensource.google/go/go/+/refs/tags/go1.19.1:src/os/file_unix.go;l=205
func openDev(path string, flags int, mode uint32) (uintptr, error) {
	for {
		fd, err := sys.Openat(sys.AT_FDCWD, path, flags, mode)
		if err == nil {
			return uintptr(fd), nil
		}
		if errors.Is(err, sys.EINTR) {
			continue
		}
		return 0, &os.PathError{Op: "open", Path: path, Err: err}
	}
}

// CloseDevice closes the device.
func CloseDevice(fd uintptr) error {
	return sys.Close(int(fd))
}
