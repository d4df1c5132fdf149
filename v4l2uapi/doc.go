// Package v4l2uapi provides low-level Go bindings for the parts of the
// Video4Linux2 (V4L2) kernel API that a UVC gadget agent needs: capability
// query, pixel format negotiation, buffer request/queue/dequeue, streaming
// on/off, and event subscription. It wraps <linux/videodev2.h> via cgo and
// golang.org/x/sys/unix for the ioctl/mmap/select syscalls underneath.
//
// The UVC-gadget control plane (UVCIOC_SEND_RESPONSE, struct uvc_request_data,
// struct uvc_event) is not part of videodev2.h; it is hand-encoded in
// uvcgadget_ioctl.go because the kernel header that defines it
// (drivers/usb/gadget/uvc.h) is not an installed uapi header.
//
// Both the V4L2 capture/output endpoint and the UVC gadget function endpoint
// are opened as plain character devices and driven through this package;
// higher layers (bufferpool, negotiator, control, orchestrator) build on top
// of it and should not need to reach for cgo or unix directly.
package v4l2uapi
