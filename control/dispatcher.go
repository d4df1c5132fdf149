// Package control decodes UVC class control requests (USB setup packets)
// and dispatches them to per-(entity, control-selector, request-code)
// handlers, the way the source's uvc_events_process_control does, reshaped
// here into an explicit dispatch table rather than nested conditionals (see
// the "Control-request dispatch" design note). Setup-packet field splitting
// follows the bmRequestType/bRequest/wValue/wIndex decoding idiom common to
// USB host and gadget stacks alike.
package control

import (
	"github.com/go4vl-uvc/uvcgadget/negotiator"
	"github.com/go4vl-uvc/uvcgadget/v4l2uapi"
)

// bmRequestType bit layout.
const (
	reqTypeMask      = 0x60
	reqTypeStandard  = 0x00
	reqTypeClass     = 0x20
	recipientMask    = 0x1f
	recipientIface   = 0x01
)

// UVC request codes (bRequest).
const (
	ReqSetCur  uint8 = 0x01
	ReqGetCur  uint8 = 0x81
	ReqGetMin  uint8 = 0x82
	ReqGetMax  uint8 = 0x83
	ReqGetRes  uint8 = 0x84
	ReqGetLen  uint8 = 0x85
	ReqGetInfo uint8 = 0x86
	ReqGetDef  uint8 = 0x87
)

// Interface indices (wIndex low byte), matching this gadget's standard UVC
// interface numbering.
const (
	InterfaceControl   uint8 = 0
	InterfaceStreaming uint8 = 1
)

// Entities (wIndex high byte) on the control interface.
const (
	EntityInterface      uint8 = 0
	EntityCameraTerminal uint8 = 1
	EntityProcessingUnit uint8 = 2
)

// Control selectors (wValue high byte).
const (
	CSRequestErrorCode uint8 = 0x02 // VC_REQUEST_ERROR_CODE_CONTROL
	CSAEMode           uint8 = 0x02 // CT_AE_MODE_CONTROL
	CSBrightness       uint8 = 0x02 // PU_BRIGHTNESS_CONTROL
	CSProbe            uint8 = 0x01 // VS_PROBE_CONTROL
	CSCommit           uint8 = 0x02 // VS_COMMIT_CONTROL
)

// Request-Error-Code register values.
const (
	ErrNone           uint8 = 0x00
	ErrInvalidControl uint8 = 0x06
	ErrInvalidRequest uint8 = 0x07
)

// Stall is the response-length sentinel meaning "STALL this transfer". It is
// converted to the kernel's negative-length convention only at the
// v4l2uapi.RequestData boundary (see ToRequestData), never compared against
// elsewhere.
const Stall int32 = -1

// Response is a control request's answer: either Stall, or Length bytes of
// Data to hand back to the host.
type Response struct {
	Length int32
	Data   []byte
}

func stallResponse() Response {
	return Response{Length: Stall}
}

func byteResponse(b byte) Response {
	return Response{Length: 1, Data: []byte{b}}
}

func u16Response(v uint16) Response {
	return Response{Length: 2, Data: []byte{byte(v), byte(v >> 8)}}
}

// ToRequestData converts a Response into the wire form UVCIOC_SEND_RESPONSE expects.
func (r Response) ToRequestData() v4l2uapi.RequestData {
	var rd v4l2uapi.RequestData
	if r.Length < 0 {
		rd.Length = Stall
		return rd
	}
	rd.Length = r.Length
	copy(rd.Data[:], r.Data)
	return rd
}

// Device is the subset of device state the dispatcher reads and mutates. It
// is satisfied by the root package's DeviceState so that this package never
// imports it directly (avoiding a negotiator/control/uvcgadget import cycle).
type Device interface {
	ErrorCode() uint8
	SetErrorCode(uint8)
	Brightness() uint16
	PendingSelector() uint8
	SetPendingSelector(uint8)
	Probe() *negotiator.StreamingControl
	Commit() *negotiator.StreamingControl
	TransferParams() negotiator.TransferParams
	ImageBlobSize() uint32
	// SetBrightness applies a validated brightness value and, in bridged
	// mode, best-effort propagates it to the capture device.
	SetBrightness(uint16)
	// LatchActiveFormat records the format/dimensions a COMMIT resolved to.
	LatchActiveFormat(pixelFormat uint32, width, height uint32)
}

// Dispatch decodes a setup packet and routes it to the control- or
// streaming-interface table, or no-ops for standard requests and requests
// outside the class/interface recipient this agent answers.
func Dispatch(dev Device, sp v4l2uapi.SetupPacket) Response {
	reqType := sp.BRequestType & reqTypeMask
	recipient := sp.BRequestType & recipientMask

	if reqType == reqTypeStandard {
		return Response{Length: 0}
	}
	if reqType != reqTypeClass || recipient != recipientIface {
		return Response{Length: 0}
	}

	iface := uint8(sp.WIndex)
	switch iface {
	case InterfaceControl:
		entity := uint8(sp.WIndex >> 8)
		cs := uint8(sp.WValue >> 8)
		return dispatchControlInterface(dev, entity, cs, sp.BRequest)
	case InterfaceStreaming:
		cs := uint8(sp.WValue >> 8)
		return dispatchStreamingInterface(dev, cs, sp.BRequest)
	default:
		return Response{Length: 0}
	}
}

func dispatchControlInterface(dev Device, entity, cs, request uint8) Response {
	switch entity {
	case EntityInterface:
		if cs == CSRequestErrorCode && request == ReqGetCur {
			prev := dev.ErrorCode()
			dev.SetErrorCode(ErrNone)
			return byteResponse(prev)
		}
		dev.SetErrorCode(ErrInvalidControl)
		return stallResponse()

	case EntityCameraTerminal:
		if cs != CSAEMode {
			dev.SetErrorCode(ErrInvalidControl)
			return stallResponse()
		}
		switch request {
		case ReqSetCur:
			dev.SetErrorCode(ErrNone)
			return byteResponse(0x01)
		case ReqGetInfo:
			dev.SetErrorCode(ErrNone)
			return byteResponse(0x03)
		case ReqGetCur, ReqGetDef, ReqGetRes:
			dev.SetErrorCode(ErrNone)
			return byteResponse(0x02)
		default:
			dev.SetErrorCode(ErrInvalidRequest)
			return stallResponse()
		}

	case EntityProcessingUnit:
		if cs != CSBrightness {
			dev.SetErrorCode(ErrInvalidControl)
			return stallResponse()
		}
		switch request {
		case ReqSetCur:
			dev.SetErrorCode(ErrNone)
			dev.SetPendingSelector(0) // 0 = "not a streaming selector" => brightness write in data phase
			return Response{Length: 2}
		case ReqGetMin:
			dev.SetErrorCode(ErrNone)
			return u16Response(0)
		case ReqGetMax:
			dev.SetErrorCode(ErrNone)
			return u16Response(255)
		case ReqGetCur:
			dev.SetErrorCode(ErrNone)
			return u16Response(dev.Brightness())
		case ReqGetDef:
			dev.SetErrorCode(ErrNone)
			return u16Response(127)
		case ReqGetRes:
			dev.SetErrorCode(ErrNone)
			return u16Response(1)
		case ReqGetInfo:
			dev.SetErrorCode(ErrNone)
			return byteResponse(0x03)
		default:
			dev.SetErrorCode(ErrInvalidRequest)
			return stallResponse()
		}

	default:
		dev.SetErrorCode(ErrInvalidControl)
		return stallResponse()
	}
}

func dispatchStreamingInterface(dev Device, cs, request uint8) Response {
	if cs != CSProbe && cs != CSCommit {
		return Response{Length: 0}
	}

	switch request {
	case ReqSetCur:
		dev.SetPendingSelector(cs)
		return Response{Length: int32(negotiator.WireSize)}
	case ReqGetCur:
		var ctrl negotiator.StreamingControl
		if cs == CSProbe {
			ctrl = *dev.Probe()
		} else {
			ctrl = *dev.Commit()
		}
		wire := ctrl.Marshal()
		return Response{Length: int32(negotiator.WireSize), Data: wire[:]}
	case ReqGetMin, ReqGetDef:
		ctrl, _ := negotiator.FillStreamingControl(1, 1, dev.TransferParams(), dev.ImageBlobSize())
		wire := ctrl.Marshal()
		return Response{Length: int32(negotiator.WireSize), Data: wire[:]}
	case ReqGetMax:
		ctrl, _ := negotiator.FillStreamingControl(-1, -1, dev.TransferParams(), dev.ImageBlobSize())
		wire := ctrl.Marshal()
		return Response{Length: int32(negotiator.WireSize), Data: wire[:]}
	case ReqGetRes:
		var zero negotiator.StreamingControl
		wire := zero.Marshal()
		return Response{Length: int32(negotiator.WireSize), Data: wire[:]}
	case ReqGetLen:
		return Response{Length: 2, Data: []byte{byte(negotiator.WireSize), byte(negotiator.WireSize >> 8)}}
	case ReqGetInfo:
		return byteResponse(0x03)
	default:
		return stallResponse()
	}
}

// ProcessData handles the data stage of a previously acknowledged SET_CUR,
// dispatching on the pending control selector recorded by Dispatch.
func ProcessData(dev Device, data []byte) error {
	selector := dev.PendingSelector()
	switch selector {
	case CSProbe:
		ctrl, err := negotiator.Unmarshal(data)
		if err != nil {
			return err
		}
		negotiator.Apply(dev.Probe(), ctrl, dev.TransferParams(), dev.ImageBlobSize())
		return nil
	case CSCommit:
		ctrl, err := negotiator.Unmarshal(data)
		if err != nil {
			return err
		}
		res := negotiator.Apply(dev.Commit(), ctrl, dev.TransferParams(), dev.ImageBlobSize())
		dev.LatchActiveFormat(res.PixelFormat, res.Width, res.Height)
		return nil
	default:
		if len(data) == 0 {
			return nil
		}
		var val uint16
		if len(data) == 1 {
			val = uint16(data[0])
		} else {
			val = uint16(data[0]) | uint16(data[1])<<8
		}
		if val > 255 {
			// P4: out-of-range SET_CUR leaves brightness_val unchanged.
			return nil
		}
		dev.SetBrightness(val)
		return nil
	}
}
