package v4l2uapi

// #include <linux/videodev2.h>
import "C"

import (
	"fmt"
	"unsafe"
)

// FourCCType identifies a pixel format by its four-character code.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/pixfmt.html
type FourCCType = uint32

// Pixel formats this agent negotiates: uncompressed YUYV and Motion-JPEG.
// See https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L518
var (
	PixelFmtYUYV  FourCCType = C.V4L2_PIX_FMT_YUYV
	PixelFmtMJPEG FourCCType = C.V4L2_PIX_FMT_MJPEG
)

// PixelFormats maps the FourCC constants above to a human-readable name.
var PixelFormats = map[FourCCType]string{
	PixelFmtYUYV:  "YUYV 4:2:2",
	PixelFmtMJPEG: "Motion-JPEG",
}

// FieldType represents the field order of a frame (v4l2_field).
type FieldType = uint32

const (
	FieldAny  FieldType = C.V4L2_FIELD_ANY
	FieldNone FieldType = C.V4L2_FIELD_NONE
)

// PixFormat mirrors the fields of struct v4l2_pix_format this agent reads
// and writes; it deliberately drops the colorimetry/quantization union
// members the kernel defines, since neither YUYV nor MJPEG over a UVC
// gadget link needs them negotiated.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L496
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  FourCCType
	Field        FieldType
	BytesPerLine uint32
	SizeImage    uint32
}

func (f PixFormat) String() string {
	return fmt.Sprintf("%s [%dx%d]; bytes per line=%d; size image=%d",
		PixelFormats[f.PixelFormat], f.Width, f.Height, f.BytesPerLine, f.SizeImage)
}

// GetPixFormat retrieves the current pixel format for the given buffer type
// (capture or output) via VIDIOC_G_FMT.
func GetPixFormat(fd uintptr, bufType BufType) (PixFormat, error) {
	var v4l2Format C.struct_v4l2_format
	v4l2Format._type = C.uint(bufType)

	if err := send(fd, C.VIDIOC_G_FMT, uintptr(unsafe.Pointer(&v4l2Format))); err != nil {
		return PixFormat{}, fmt.Errorf("get pix format: %w", err)
	}

	pix := *(*C.struct_v4l2_pix_format)(unsafe.Pointer(&v4l2Format.fmt[0]))
	return PixFormat{
		Width:        uint32(pix.width),
		Height:       uint32(pix.height),
		PixelFormat:  FourCCType(pix.pixelformat),
		Field:        FieldType(pix.field),
		BytesPerLine: uint32(pix.bytesperline),
		SizeImage:    uint32(pix.sizeimage),
	}, nil
}

// SetPixFormat negotiates the pixel format for the given buffer type via
// VIDIOC_S_FMT. The driver may adjust width/height/bytesperline/sizeimage;
// the returned PixFormat reflects what the driver actually accepted.
func SetPixFormat(fd uintptr, bufType BufType, pixFmt PixFormat) (PixFormat, error) {
	var v4l2Format C.struct_v4l2_format
	v4l2Format._type = C.uint(bufType)

	pix := (*C.struct_v4l2_pix_format)(unsafe.Pointer(&v4l2Format.fmt[0]))
	pix.width = C.uint(pixFmt.Width)
	pix.height = C.uint(pixFmt.Height)
	pix.pixelformat = C.uint(pixFmt.PixelFormat)
	pix.field = C.uint(pixFmt.Field)

	if err := send(fd, C.VIDIOC_S_FMT, uintptr(unsafe.Pointer(&v4l2Format))); err != nil {
		return PixFormat{}, fmt.Errorf("set pix format: %w", err)
	}

	return PixFormat{
		Width:        uint32(pix.width),
		Height:       uint32(pix.height),
		PixelFormat:  FourCCType(pix.pixelformat),
		Field:        FieldType(pix.field),
		BytesPerLine: uint32(pix.bytesperline),
		SizeImage:    uint32(pix.sizeimage),
	}, nil
}
