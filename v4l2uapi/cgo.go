package v4l2uapi

/*
#cgo linux CFLAGS: -I/usr/include

#include <linux/videodev2.h>
#include <linux/v4l2-controls.h>
*/
import "C"

// This file holds the package-wide CGO compiler directives for the v4l2uapi
// package; capability.go adds ${SRCDIR}/../include/ to the include path on
// top of them.
//
// The default configuration uses system-provided V4L2 kernel headers from /usr/include.
// These headers are typically provided by the linux-libc-dev package (Debian/Ubuntu),
// kernel-headers package (RHEL/Fedora), or linux-headers package (Arch Linux).
//
// To use custom or newer kernel headers, override the include path using the CGO_CFLAGS
// environment variable:
//
//	CGO_CFLAGS="-I/path/to/custom/headers" go build
//
// UVC-gadget-private ioctls and structs (UVCIOC_SEND_RESPONSE, uvc_request_data,
// uvc_event) are NOT declared here: they live in drivers/usb/gadget/uvc.h, a
// kernel source header never installed as uapi, so no cgo include can reach
// it. Those are hand-encoded in uvcgadget_ioctl.go instead.
