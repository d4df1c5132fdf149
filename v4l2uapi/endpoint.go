package v4l2uapi

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// Endpoint is the concrete VideoEndpoint: an opened V4L2 character device
// (capture device or UVC gadget function node), non-blocking, with its
// queue type and buffer memory model fixed at open time. It generalizes
// the teacher's device.Device — which only ever opens a capture device and
// owns its buffers' mmap lifetime internally — into the narrower, queue-
// type-agnostic shape the orchestrator needs, and turns every free ioctl
// function in this package into a method so the orchestrator never touches
// a raw fd or an ioctl number directly (§4.1's Endpoint Abstraction).
type Endpoint struct {
	path    string
	fd      uintptr
	bufType BufType
	memType MemType
}

// Open opens path as a non-blocking character device for the given queue
// type and buffer memory model, verifying the device reports the matching
// capability plus streaming support (§4.1).
func Open(path string, bufType BufType, memType MemType) (*Endpoint, error) {
	fd, err := OpenDevice(path, sys.O_RDWR|sys.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("endpoint open %s: %w", path, err)
	}

	cap, err := GetCapability(fd)
	if err != nil {
		_ = CloseDevice(fd)
		return nil, fmt.Errorf("endpoint open %s: query capability: %w", path, err)
	}

	caps := cap.Capabilities
	if caps&CapDeviceCapabilities != 0 {
		caps = cap.DeviceCapabilities
	}
	if caps&CapStreaming == 0 {
		_ = CloseDevice(fd)
		return nil, fmt.Errorf("endpoint open %s: device does not support streaming I/O", path)
	}

	switch bufType {
	case BufTypeVideoCapture:
		if caps&CapVideoCapture == 0 {
			_ = CloseDevice(fd)
			return nil, fmt.Errorf("endpoint open %s: device does not support video capture", path)
		}
	case BufTypeVideoOutput:
		if caps&CapVideoOutput == 0 {
			_ = CloseDevice(fd)
			return nil, fmt.Errorf("endpoint open %s: device does not support video output", path)
		}
	}

	return &Endpoint{path: path, fd: fd, bufType: bufType, memType: memType}, nil
}

func (e *Endpoint) Name() string     { return e.path }
func (e *Endpoint) Fd() uintptr      { return e.fd }
func (e *Endpoint) BufType() BufType { return e.bufType }
func (e *Endpoint) MemType() MemType { return e.memType }

func (e *Endpoint) SetFormat(pf PixFormat) (PixFormat, error) {
	return SetPixFormat(e.fd, e.bufType, pf)
}

func (e *Endpoint) GetFormat() (PixFormat, error) {
	return GetPixFormat(e.fd, e.bufType)
}

func (e *Endpoint) RequestBuffers(n uint32) (uint32, error) {
	if n == 0 {
		rb, err := RequestBuffersFor(e.fd, e.bufType, e.memType, 0)
		if err != nil {
			// A zero-buffer request legitimately reports zero allocated;
			// RequestBuffersFor treats that as an error for the nonzero
			// case, so tolerate it here.
			return 0, nil
		}
		return rb.Count, nil
	}
	rb, err := RequestBuffersFor(e.fd, e.bufType, e.memType, n)
	if err != nil {
		return 0, err
	}
	return rb.Count, nil
}

func (e *Endpoint) QueryBuffer(index uint32) (Buffer, error) {
	return QueryBuffer(e.fd, e.bufType, e.memType, index)
}

func (e *Endpoint) MapBuffer(offset int64, length int) ([]byte, error) {
	return MapMemoryBuffer(e.fd, offset, length)
}

func (e *Endpoint) UnmapBuffer(addr []byte) error {
	return UnmapMemoryBuffer(addr)
}

func (e *Endpoint) Enqueue(index uint32, bytesUsed uint32, userPtr uintptr, length uint32) (Buffer, error) {
	return QueueBuffer(e.fd, e.bufType, e.memType, index, bytesUsed, userPtr, length)
}

func (e *Endpoint) Dequeue() (Buffer, error) {
	return DequeueBuffer(e.fd, e.bufType, e.memType)
}

func (e *Endpoint) StreamOn() error {
	return StreamOn(e.fd, e.bufType)
}

func (e *Endpoint) StreamOff() error {
	return StreamOff(e.fd, e.bufType)
}

func (e *Endpoint) SetControl(id CtrlID, val CtrlValue) error {
	return SetControlValue(e.fd, id, val)
}

func (e *Endpoint) GetControl(id CtrlID) (CtrlValue, error) {
	return GetControlValue(e.fd, id)
}

func (e *Endpoint) SubscribeEvent(t EventType) error {
	return SubscribeEvent(e.fd, NewEventSubscription(t))
}

func (e *Endpoint) DequeueEvent() (*Event, error) {
	return DequeueEvent(e.fd)
}

func (e *Endpoint) SendResponse(rd RequestData) error {
	return SendResponse(e.fd, rd)
}

func (e *Endpoint) Close() error {
	return CloseDevice(e.fd)
}
