package v4l2uapi

// VideoEndpoint is the capability surface §4.1 describes: a uniform
// abstraction over the two video endpoints (capture producer, gadget
// consumer) that the orchestrator drives without ever touching a raw file
// descriptor or an ioctl number itself. It replaces the teacher's
// capture-only Device/StreamingDevice split with one shape that both queue
// types and both memory types satisfy, and — critically for the
// orchestrator's own tests — can be replaced with a fake that never opens a
// real device.
type VideoEndpoint interface {
	// Name returns the path the device was opened from.
	Name() string
	// Fd returns the open file descriptor, used only for the readiness wait.
	Fd() uintptr
	// BufType returns the queue type this endpoint streams (capture or output).
	BufType() BufType
	// MemType returns the buffer memory model in use (mmap or userptr).
	MemType() MemType

	// SetFormat negotiates the pixel format via VIDIOC_S_FMT.
	SetFormat(PixFormat) (PixFormat, error)
	// GetFormat retrieves the current pixel format via VIDIOC_G_FMT.
	GetFormat() (PixFormat, error)

	// RequestBuffers requests n buffers via VIDIOC_REQBUFS (n=0 tears the
	// pool down) and reports how many the driver actually granted.
	RequestBuffers(n uint32) (uint32, error)
	// QueryBuffer retrieves a buffer's length/offset via VIDIOC_QUERYBUF,
	// used before mapping a MemTypeMMAP buffer.
	QueryBuffer(index uint32) (Buffer, error)
	// MapBuffer mmaps a MemTypeMMAP buffer at the given offset/length.
	MapBuffer(offset int64, length int) ([]byte, error)
	// UnmapBuffer munmaps a buffer previously returned by MapBuffer.
	UnmapBuffer(addr []byte) error

	// Enqueue hands a buffer to the kernel via VIDIOC_QBUF.
	Enqueue(index uint32, bytesUsed uint32, userPtr uintptr, length uint32) (Buffer, error)
	// Dequeue retrieves a completed buffer via VIDIOC_DQBUF.
	Dequeue() (Buffer, error)

	// StreamOn / StreamOff toggle this endpoint's queue via
	// VIDIOC_STREAMON/VIDIOC_STREAMOFF.
	StreamOn() error
	StreamOff() error

	// SetControl / GetControl access a V4L2 user control (e.g. brightness).
	SetControl(id CtrlID, val CtrlValue) error
	GetControl(id CtrlID) (CtrlValue, error)

	// SubscribeEvent subscribes to a V4L2/UVC-gadget-private event type.
	SubscribeEvent(t EventType) error
	// DequeueEvent retrieves a pending event via VIDIOC_DQEVENT.
	DequeueEvent() (*Event, error)
	// SendResponse answers a pending control request via
	// UVCIOC_SEND_RESPONSE (gadget endpoint only).
	SendResponse(RequestData) error

	// Close releases the endpoint's resources.
	Close() error
}
