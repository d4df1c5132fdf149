package v4l2uapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// The UVC gadget function driver reports its control-plane activity through
// VIDIOC_SUBSCRIBE_EVENT/VIDIOC_DQEVENT using event types and a payload union
// that standard <linux/videodev2.h> does not define: struct uvc_event and
// UVCIOC_SEND_RESPONSE live in drivers/usb/gadget/uvc.h, a kernel source
// header that is never installed as uapi. This file reproduces the handful
// of bytes this agent actually needs from that header by hand, decoding them
// out of the 64-byte Event.GetRawData() payload the existing V4L2 event
// machinery already exposes, rather than by cgo-including a header that
// cannot be included.

// UVC gadget event types, offsets into the V4L2_EVENT_PRIVATE_START range
// (see EventPrivateStart in events.go).
const (
	UVCEventConnect    EventType = EventPrivateStart + 0
	UVCEventDisconnect EventType = EventPrivateStart + 1
	UVCEventStreamOn   EventType = EventPrivateStart + 2
	UVCEventStreamOff  EventType = EventPrivateStart + 3
	UVCEventSetup      EventType = EventPrivateStart + 4
	UVCEventData       EventType = EventPrivateStart + 5
)

// SetupPacket mirrors struct usb_ctrlrequest: the 8-byte USB control setup
// packet delivered with a UVCEventSetup event.
type SetupPacket struct {
	BRequestType uint8
	BRequest     uint8
	WValue       uint16
	WIndex       uint16
	WLength      uint16
}

// DecodeSetupPacket reads a SetupPacket out of an event's raw payload.
// usb_ctrlrequest fields are little-endian on the wire and on every
// architecture this gadget driver runs on, so a direct byte-order decode
// is used instead of an unsafe struct cast.
func DecodeSetupPacket(raw []byte) (SetupPacket, error) {
	if len(raw) < 8 {
		return SetupPacket{}, fmt.Errorf("decode setup packet: payload too short: %d bytes", len(raw))
	}
	return SetupPacket{
		BRequestType: raw[0],
		BRequest:     raw[1],
		WValue:       binary.LittleEndian.Uint16(raw[2:4]),
		WIndex:       binary.LittleEndian.Uint16(raw[4:6]),
		WLength:      binary.LittleEndian.Uint16(raw[6:8]),
	}, nil
}

// maxUVCRequestData is sizeof(struct uvc_request_data.data) in the kernel
// header: a 60-byte fixed buffer for control request/response bodies.
const maxUVCRequestData = 60

// RequestData mirrors struct uvc_request_data: the length-prefixed buffer
// used both to read a UVCEventData control write and to answer a
// UVCEventSetup control read via SendResponse.
type RequestData struct {
	Length int32
	Data   [maxUVCRequestData]byte
}

// DecodeRequestData reads a RequestData out of a UVCEventData event's raw payload.
func DecodeRequestData(raw []byte) (RequestData, error) {
	if len(raw) < 4 {
		return RequestData{}, fmt.Errorf("decode request data: payload too short: %d bytes", len(raw))
	}
	var rd RequestData
	rd.Length = int32(binary.LittleEndian.Uint32(raw[0:4]))
	n := copy(rd.Data[:], raw[4:])
	_ = n
	return rd, nil
}

// uvcIOCSendResponse is UVCIOC_SEND_RESPONSE = _IOW('U', 1, struct uvc_request_data),
// encoded with the same iocEnc primitives the package uses for every other
// ioctl number, since this one cannot come from a cgo constant.
var uvcIOCSendResponse = iocEncWrite('U', 1, unsafe.Sizeof(RequestData{}))

// SendResponse answers a pending control request (STALL, or a data-stage
// response/acknowledgement) via UVCIOC_SEND_RESPONSE. A negative Length is
// the kernel's STALL sentinel: the gadget driver stalls the endpoint instead
// of transferring data.
func SendResponse(fd uintptr, resp RequestData) error {
	if err := send(fd, uvcIOCSendResponse, uintptr(unsafe.Pointer(&resp))); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
