package v4l2uapi

import (
	sys "golang.org/x/sys/unix"
)

// ioctl uses a 32-bit value to encode commands sent to the kernel for device
// control. Requests sent via ioctl use a 32-bit value with the layout:
// - lower 16 bits: ioctl command (type + number)
// - upper 14 bits: size of the parameter structure
// - MSB 2 bits: direction ("access mode")
// https://elixir.bootlin.com/linux/v5.13-rc6/source/include/uapi/asm-generic/ioctl.h
const (
	iocOpNone  = 0
	iocOpWrite = 1
	iocOpRead  = 2

	iocTypeBits   = 8
	iocNumberBits = 8
	iocSizeBits   = 14

	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

// iocEnc encodes a V4L2/ioctl command value.
// See https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h#L69
func iocEnc(iocMode, iocType, number, size uintptr) uintptr {
	return (iocMode << opPos) | (iocType << typePos) | (number << numberPos) | (size << sizePos)
}

// iocEncRead encodes an ioctl command where the program reads the result from the kernel.
func iocEncRead(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpRead, iocType, number, size)
}

// iocEncWrite encodes an ioctl command where the program writes values read by the kernel.
// Used for UVCIOC_SEND_RESPONSE, which this package cannot obtain from a cgo
// constant because its defining header is not an installed uapi header.
func iocEncWrite(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpWrite, iocType, number, size)
}

// iocEncReadWrite encodes an ioctl command for combined read and write.
func iocEncReadWrite(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpRead|iocOpWrite, iocType, number, size)
}

// ioctl is a wrapper for Syscall(SYS_IOCTL) that retries on EINTR.
func ioctl(fd, req, arg uintptr) (err sys.Errno) {
	for {
		_, _, errno := sys.Syscall(sys.SYS_IOCTL, fd, req, arg)
		switch errno {
		case 0:
			return 0
		case sys.EINTR:
			continue
		default:
			return errno
		}
	}
}

// send issues a request to the kernel via the ioctl syscall and maps the
// resulting errno onto the package's sentinel error taxonomy.
func send(fd, req, arg uintptr) error {
	errno := ioctl(fd, req, arg)
	if errno == 0 {
		return nil
	}
	return parseErrorType(errno)
}
