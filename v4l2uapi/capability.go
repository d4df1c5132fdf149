package v4l2uapi

/*
#cgo linux CFLAGS: -I ${SRCDIR}/../include/
#include <linux/videodev2.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Capability constants this agent cares about: video capture, video output
// and streaming I/O support, plus the device-capabilities flag that tells a
// caller which of the two capability fields to trust.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L451
const (
	CapVideoCapture       uint32 = C.V4L2_CAP_VIDEO_CAPTURE
	CapVideoOutput        uint32 = C.V4L2_CAP_VIDEO_OUTPUT
	CapStreaming          uint32 = C.V4L2_CAP_STREAMING
	CapDeviceCapabilities uint32 = C.V4L2_CAP_DEVICE_CAPS
)

// Capability represents the capabilities and identification information of a
// V4L2 device (v4l2_capability).
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-querycap.html#c.V4L.v4l2_capability
type Capability struct {
	Driver             string
	Card               string
	BusInfo            string
	Version            uint32
	Capabilities       uint32
	DeviceCapabilities uint32
}

// GetCapability issues VIDIOC_QUERYCAP against fd.
func GetCapability(fd uintptr) (Capability, error) {
	var v4l2Cap C.struct_v4l2_capability
	if err := send(fd, C.VIDIOC_QUERYCAP, uintptr(unsafe.Pointer(&v4l2Cap))); err != nil {
		return Capability{}, fmt.Errorf("capability: %w", err)
	}
	return Capability{
		Driver:             C.GoString((*C.char)(unsafe.Pointer(&v4l2Cap.driver[0]))),
		Card:               C.GoString((*C.char)(unsafe.Pointer(&v4l2Cap.card[0]))),
		BusInfo:            C.GoString((*C.char)(unsafe.Pointer(&v4l2Cap.bus_info[0]))),
		Version:            uint32(v4l2Cap.version),
		Capabilities:       uint32(v4l2Cap.capabilities),
		DeviceCapabilities: uint32(v4l2Cap.device_caps),
	}, nil
}

// GetCapabilities returns DeviceCapabilities when the driver reports it,
// falling back to the legacy combined Capabilities field otherwise.
func (c Capability) GetCapabilities() uint32 {
	if c.Capabilities&CapDeviceCapabilities != 0 {
		return c.DeviceCapabilities
	}
	return c.Capabilities
}

// IsVideoCaptureSupported reports whether the opened node supports capture.
func (c Capability) IsVideoCaptureSupported() bool {
	return c.GetCapabilities()&CapVideoCapture != 0
}

// IsVideoOutputSupported reports whether the opened node supports output.
func (c Capability) IsVideoOutputSupported() bool {
	return c.GetCapabilities()&CapVideoOutput != 0
}

// IsStreamingSupported reports whether the device supports mmap/userptr streaming I/O.
func (c Capability) IsStreamingSupported() bool {
	return c.GetCapabilities()&CapStreaming != 0
}

// String returns a human-readable identification line for the device.
func (c Capability) String() string {
	return fmt.Sprintf("driver: %s; card: %s; bus info: %s", c.Driver, c.Card, c.BusInfo)
}
