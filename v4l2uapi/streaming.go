package v4l2uapi

// #include <linux/videodev2.h>
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// Streaming with buffers.
// See https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/buffer.html

// BufType (v4l2_buf_type) identifies which queue a buffer operation targets.
// A UVC gadget agent in bridged mode drives both: VIDEO_CAPTURE against the
// V4L2 capture device, and VIDEO_OUTPUT against the gadget function node.
type BufType = uint32

const (
	BufTypeVideoCapture BufType = C.V4L2_BUF_TYPE_VIDEO_CAPTURE
	BufTypeVideoOutput  BufType = C.V4L2_BUF_TYPE_VIDEO_OUTPUT
)

// MemType (v4l2_memory) identifies the buffer backing memory model.
type MemType = uint32

const (
	MemTypeMMAP    MemType = C.V4L2_MEMORY_MMAP
	MemTypeUserPtr MemType = C.V4L2_MEMORY_USERPTR
)

// RequestBuffers (v4l2_requestbuffers) requests buffer allocation,
// initializing streaming I/O for the given queue and memory type.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L949
type RequestBuffers struct {
	Count   uint32
	BufType BufType
	Memory  MemType
}

// Buffer (v4l2_buffer) carries per-buffer state exchanged between
// application and driver once streaming I/O has been initialized.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L1037
type Buffer struct {
	Index     uint32
	BufType   BufType
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Sequence  uint32
	Memory    MemType
	Length    uint32
	// Offset is valid for MemTypeMMAP: the mmap() offset for this buffer.
	Offset uint32
	// UserPtr is valid for MemTypeUserPtr: the userspace address the driver
	// should read from (output) or write into (capture).
	UserPtr uintptr
}

func makeBuffer(v4l2Buf C.struct_v4l2_buffer) Buffer {
	b := Buffer{
		Index:     uint32(v4l2Buf.index),
		BufType:   uint32(v4l2Buf._type),
		BytesUsed: uint32(v4l2Buf.bytesused),
		Flags:     uint32(v4l2Buf.flags),
		Field:     uint32(v4l2Buf.field),
		Sequence:  uint32(v4l2Buf.sequence),
		Memory:    uint32(v4l2Buf.memory),
		Length:    uint32(v4l2Buf.length),
	}
	switch b.Memory {
	case MemTypeMMAP:
		b.Offset = *(*uint32)(unsafe.Pointer(&v4l2Buf.m[0]))
	case MemTypeUserPtr:
		b.UserPtr = *(*uintptr)(unsafe.Pointer(&v4l2Buf.m[0]))
	}
	return b
}

// RequestBuffersFor issues VIDIOC_REQBUFS for the given queue, memory type
// and buffer count, returning what the driver actually allocated.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-reqbufs.html
func RequestBuffersFor(fd uintptr, bufType BufType, memType MemType, count uint32) (RequestBuffers, error) {
	var req C.struct_v4l2_requestbuffers
	req.count = C.uint(count)
	req._type = C.uint(bufType)
	req.memory = C.uint(memType)

	if err := send(fd, C.VIDIOC_REQBUFS, uintptr(unsafe.Pointer(&req))); err != nil {
		return RequestBuffers{}, fmt.Errorf("request buffers: %w", err)
	}
	if req.count == 0 {
		return RequestBuffers{}, errors.New("request buffers: driver allocated zero buffers")
	}

	return RequestBuffers{Count: uint32(req.count), BufType: bufType, Memory: memType}, nil
}

// QueryBuffer retrieves buffer info for an allocated buffer at the given
// index, used to obtain the mmap offset/length before mapping it.
func QueryBuffer(fd uintptr, bufType BufType, memType MemType, index uint32) (Buffer, error) {
	var v4l2Buf C.struct_v4l2_buffer
	v4l2Buf._type = C.uint(bufType)
	v4l2Buf.memory = C.uint(memType)
	v4l2Buf.index = C.uint(index)

	if err := send(fd, C.VIDIOC_QUERYBUF, uintptr(unsafe.Pointer(&v4l2Buf))); err != nil {
		return Buffer{}, fmt.Errorf("query buffer: %w", err)
	}

	return makeBuffer(v4l2Buf), nil
}

// MapMemoryBuffer maps a driver-allocated buffer at the given mmap offset
// into this process's address space.
func MapMemoryBuffer(fd uintptr, offset int64, length int) ([]byte, error) {
	data, err := sys.Mmap(int(fd), offset, length, sys.PROT_READ|sys.PROT_WRITE, sys.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map memory buffer: %w", err)
	}
	return data, nil
}

// UnmapMemoryBuffer unmaps a buffer previously mapped with MapMemoryBuffer.
func UnmapMemoryBuffer(buf []byte) error {
	if err := sys.Munmap(buf); err != nil {
		return fmt.Errorf("unmap memory buffer: %w", err)
	}
	return nil
}

// StreamOn requests streaming to be turned on for the given queue.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-streamon.html
func StreamOn(fd uintptr, bufType BufType) error {
	bt := bufType
	if err := send(fd, C.VIDIOC_STREAMON, uintptr(unsafe.Pointer(&bt))); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}
	return nil
}

// StreamOff requests streaming to be turned off for the given queue.
func StreamOff(fd uintptr, bufType BufType) error {
	bt := bufType
	if err := send(fd, C.VIDIOC_STREAMOFF, uintptr(unsafe.Pointer(&bt))); err != nil {
		return fmt.Errorf("stream off: %w", err)
	}
	return nil
}

// QueueBuffer enqueues a buffer with the driver: empty for a capture queue,
// filled (with BytesUsed set) for an output queue. For MemTypeUserPtr,
// userPtr/length describe the application-owned backing memory.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-qbuf.html
func QueueBuffer(fd uintptr, bufType BufType, memType MemType, index uint32, bytesUsed uint32, userPtr uintptr, length uint32) (Buffer, error) {
	var v4l2Buf C.struct_v4l2_buffer
	v4l2Buf._type = C.uint(bufType)
	v4l2Buf.memory = C.uint(memType)
	v4l2Buf.index = C.uint(index)
	v4l2Buf.bytesused = C.uint(bytesUsed)
	if memType == MemTypeUserPtr {
		*(*uintptr)(unsafe.Pointer(&v4l2Buf.m[0])) = userPtr
		v4l2Buf.length = C.uint(length)
	}

	if err := send(fd, C.VIDIOC_QBUF, uintptr(unsafe.Pointer(&v4l2Buf))); err != nil {
		return Buffer{}, fmt.Errorf("buffer queue: %w", err)
	}

	return makeBuffer(v4l2Buf), nil
}

// DequeueBuffer dequeues the next completed buffer from the given queue:
// filled for a capture queue, consumed (freed for reuse) for an output queue.
func DequeueBuffer(fd uintptr, bufType BufType, memType MemType) (Buffer, error) {
	var v4l2Buf C.struct_v4l2_buffer
	v4l2Buf._type = C.uint(bufType)
	v4l2Buf.memory = C.uint(memType)

	if err := send(fd, C.VIDIOC_DQBUF, uintptr(unsafe.Pointer(&v4l2Buf))); err != nil {
		return Buffer{}, fmt.Errorf("buffer dequeue: %w", err)
	}

	return makeBuffer(v4l2Buf), nil
}
