// Package catalog holds the static table of pixel formats, frame sizes and
// frame intervals this agent advertises over UVC. It collapses the
// teacher's driver-queried format/frame-size/frame-interval enumeration
// (VIDIOC_ENUM_FMT, VIDIOC_ENUM_FRAMESIZES, VIDIOC_ENUM_FRAMEINTERVALS) into
// a fixed, bit-exact-for-the-wire table: this agent never queries a real
// driver for its own advertised formats, it only ever negotiates within
// these two.
package catalog

import "github.com/go4vl-uvc/uvcgadget/v4l2uapi"

// Frame is one supported frame size and its ordered list of supported
// intervals, in 100-nanosecond units, smallest first.
type Frame struct {
	Width     uint32
	Height    uint32
	Intervals []uint32
}

// Format is one supported pixel format and its ordered frame sizes.
type Format struct {
	FourCC v4l2uapi.FourCCType
	Frames []Frame
}

// Formats is the wire-exact, 1-based-indexed catalog this agent advertises.
// Index 1 is YUYV, index 2 is MJPEG; within each, frame index 1 is the
// smaller (640x360) size and frame index 2 is 1280x720.
var Formats = []Format{
	{
		FourCC: v4l2uapi.PixelFmtYUYV,
		Frames: []Frame{
			{Width: 640, Height: 360, Intervals: []uint32{666666, 10000000, 50000000}},
			{Width: 1280, Height: 720, Intervals: []uint32{50000000}},
		},
	},
	{
		FourCC: v4l2uapi.PixelFmtMJPEG,
		Frames: []Frame{
			{Width: 640, Height: 360, Intervals: []uint32{666666, 10000000, 50000000}},
			{Width: 1280, Height: 720, Intervals: []uint32{50000000}},
		},
	},
}

// ResolveFormatIndex clamps a 1-based, possibly-negative format index into
// [1, len(Formats)]. A negative index counts from the end (-1 is the last
// format), matching fill_streaming_control's "from end" resolution; an index
// of 0 clamps to 1 (B1).
func ResolveFormatIndex(idx int) int {
	n := len(Formats)
	if idx < 0 {
		idx = n + idx + 1
	}
	if idx < 1 {
		return 1
	}
	if idx > n {
		return n
	}
	return idx
}

// ResolveFrameIndex clamps a 1-based, possibly-negative frame index within
// the given format into [1, len(format.Frames)].
func ResolveFrameIndex(format Format, idx int) int {
	n := len(format.Frames)
	if idx < 0 {
		idx = n + idx + 1
	}
	if idx < 1 {
		return 1
	}
	if idx > n {
		return n
	}
	return idx
}

// At returns the format at the given 1-based, already-resolved index.
func At(formatIndex int) Format {
	return Formats[formatIndex-1]
}

// FrameAt returns the frame at the given 1-based, already-resolved index
// within format.
func FrameAt(format Format, frameIndex int) Frame {
	return format.Frames[frameIndex-1]
}

// ResolveInterval picks the first catalog interval >= requested, falling
// back to the last (largest finite) entry if every catalog interval is
// smaller (B2).
func ResolveInterval(frame Frame, requested uint32) uint32 {
	for _, iv := range frame.Intervals {
		if iv >= requested {
			return iv
		}
	}
	return frame.Intervals[len(frame.Intervals)-1]
}

// DefaultInterval returns the smallest (first) interval for a frame.
func DefaultInterval(frame Frame) uint32 {
	return frame.Intervals[0]
}

// MaxVideoFrameSize computes dwMaxVideoFrameSize for the given format/frame:
// w*h*2 for YUYV, or imageBlobSize for MJPEG (0 if no image has been loaded).
func MaxVideoFrameSize(format Format, frame Frame, imageBlobSize uint32) uint32 {
	if format.FourCC == v4l2uapi.PixelFmtMJPEG {
		return imageBlobSize
	}
	return frame.Width * frame.Height * 2
}
