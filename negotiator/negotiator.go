// Package negotiator implements the UVC PROBE/COMMIT streaming-parameter
// negotiation: it fills, clamps and resolves StreamingControl records
// against the format catalog, the way the source's uvc_fill_streaming_control
// and uvc_events_process_control (class SET_CUR on the streaming interface)
// do for the wire-format side of the protocol.
package negotiator

import (
	"encoding/binary"
	"fmt"

	"github.com/go4vl-uvc/uvcgadget/catalog"
)

// WireSize is the padded byte size of a StreamingControl on the wire.
const WireSize = 34

// StreamingControl is the UVC VS_PROBE_CONTROL / VS_COMMIT_CONTROL payload.
// Field order and sizes match the wire layout exactly; see §6 of the agent's
// external interface for the byte-for-byte layout this type marshals to.
type StreamingControl struct {
	Hint                   uint16
	FormatIndex            uint8 // 1-based
	FrameIndex             uint8 // 1-based
	FrameInterval          uint32
	KeyFrameRate           uint16
	PFrameRate             uint16
	CompQuality            uint16
	CompWindowSize         uint16
	Delay                  uint16
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32
	ClockFrequency         uint32
	FramingInfo            uint8
	PreferredVersion       uint8
	MinVersion             uint8
	MaxVersion             uint8
}

// Marshal encodes ctrl into its little-endian 34-byte wire representation.
func (ctrl StreamingControl) Marshal() [WireSize]byte {
	var buf [WireSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], ctrl.Hint)
	buf[2] = ctrl.FormatIndex
	buf[3] = ctrl.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], ctrl.FrameInterval)
	binary.LittleEndian.PutUint16(buf[8:10], ctrl.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], ctrl.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], ctrl.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], ctrl.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], ctrl.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], ctrl.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], ctrl.MaxPayloadTransferSize)
	binary.LittleEndian.PutUint32(buf[26:30], ctrl.ClockFrequency)
	buf[30] = ctrl.FramingInfo
	buf[31] = ctrl.PreferredVersion
	buf[32] = ctrl.MinVersion
	buf[33] = ctrl.MaxVersion
	return buf
}

// Unmarshal decodes a StreamingControl from its wire representation. Payloads
// shorter than WireSize are zero-extended, matching how a short SET_CUR data
// stage should be treated by the caller.
func Unmarshal(data []byte) (StreamingControl, error) {
	var buf [WireSize]byte
	n := copy(buf[:], data)
	if n == 0 && len(data) > 0 {
		return StreamingControl{}, fmt.Errorf("negotiator: empty streaming control payload")
	}
	return StreamingControl{
		Hint:                   binary.LittleEndian.Uint16(buf[0:2]),
		FormatIndex:            buf[2],
		FrameIndex:             buf[3],
		FrameInterval:          binary.LittleEndian.Uint32(buf[4:8]),
		KeyFrameRate:           binary.LittleEndian.Uint16(buf[8:10]),
		PFrameRate:             binary.LittleEndian.Uint16(buf[10:12]),
		CompQuality:            binary.LittleEndian.Uint16(buf[12:14]),
		CompWindowSize:         binary.LittleEndian.Uint16(buf[14:16]),
		Delay:                  binary.LittleEndian.Uint16(buf[16:18]),
		MaxVideoFrameSize:      binary.LittleEndian.Uint32(buf[18:22]),
		MaxPayloadTransferSize: binary.LittleEndian.Uint32(buf[22:26]),
		ClockFrequency:         binary.LittleEndian.Uint32(buf[26:30]),
		FramingInfo:            buf[30],
		PreferredVersion:       buf[31],
		MinVersion:             buf[32],
		MaxVersion:             buf[33],
	}, nil
}

// Resolution is the (format, frame) a Fill/Apply call resolved to, along
// with the pixel format and dimensions the caller should latch into device
// state when the target was commit.
type Resolution struct {
	FormatIndex int
	FrameIndex  int
	PixelFormat uint32
	Width       uint32
	Height      uint32
}

// TransferParams carries the USB-transfer-shape inputs needed to compute
// dwMaxPayloadTransferSize: whether the endpoint is in bulk mode, and (for
// isochronous) the negotiated max packet size, mult and burst.
type TransferParams struct {
	Bulk       bool
	MaxPacket  uint32
	Mult       uint32
	Burst      uint32
}

func maxPayloadTransferSize(tp TransferParams, maxVideoFrameSize uint32) uint32 {
	if tp.Bulk {
		return maxVideoFrameSize
	}
	return tp.MaxPacket * (tp.Mult + 1) * (tp.Burst + 1)
}

// FillStreamingControl fills ctrl from the catalog at the given (possibly
// out-of-range or negative, "from end") format/frame indices, selecting the
// smallest interval as default. imageBlobSize is used when the resolved
// format is MJPEG. Per design note (b), ctrl is zeroed unconditionally
// before filling, regardless of whether the requested indices are in range.
func FillStreamingControl(formatIdx, frameIdx int, tp TransferParams, imageBlobSize uint32) (StreamingControl, Resolution) {
	fi := catalog.ResolveFormatIndex(formatIdx)
	format := catalog.At(fi)
	fri := catalog.ResolveFrameIndex(format, frameIdx)
	frame := catalog.FrameAt(format, fri)

	interval := catalog.DefaultInterval(frame)
	maxFrameSize := catalog.MaxVideoFrameSize(format, frame, imageBlobSize)

	ctrl := StreamingControl{
		FormatIndex:            uint8(fi),
		FrameIndex:             uint8(fri),
		FrameInterval:          interval,
		MaxVideoFrameSize:      maxFrameSize,
		MaxPayloadTransferSize: maxPayloadTransferSize(tp, maxFrameSize),
		FramingInfo:            3,
		PreferredVersion:       1,
		MinVersion:             1,
		MaxVersion:             1,
	}

	return ctrl, Resolution{
		FormatIndex: fi,
		FrameIndex:  fri,
		PixelFormat: format.FourCC,
		Width:       frame.Width,
		Height:      frame.Height,
	}
}

// Apply resolves a host-proposed StreamingControl (from a SET_CUR data
// stage) against the catalog and writes the resolved values into target. It
// is used for both PROBE (target is the probe control) and COMMIT (target is
// the commit control, and the caller should additionally latch the returned
// Resolution's pixel format/width/height as the active format).
func Apply(target *StreamingControl, in StreamingControl, tp TransferParams, imageBlobSize uint32) Resolution {
	fi := catalog.ResolveFormatIndex(int(in.FormatIndex))
	format := catalog.At(fi)
	fri := catalog.ResolveFrameIndex(format, int(in.FrameIndex))
	frame := catalog.FrameAt(format, fri)

	interval := catalog.ResolveInterval(frame, in.FrameInterval)
	maxFrameSize := catalog.MaxVideoFrameSize(format, frame, imageBlobSize)

	target.FormatIndex = uint8(fi)
	target.FrameIndex = uint8(fri)
	target.FrameInterval = interval
	target.MaxVideoFrameSize = maxFrameSize
	target.MaxPayloadTransferSize = maxPayloadTransferSize(tp, maxFrameSize)
	target.FramingInfo = 3
	target.PreferredVersion = 1
	target.MinVersion = 1
	target.MaxVersion = 1

	return Resolution{
		FormatIndex: fi,
		FrameIndex:  fri,
		PixelFormat: format.FourCC,
		Width:       frame.Width,
		Height:      frame.Height,
	}
}
