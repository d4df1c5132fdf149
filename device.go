// Package uvcgadget bundles the single process-wide DeviceState this agent
// reads and mutates from one place per event-loop iteration (§9's "global
// process state" design note): the device role, the active format, the
// PROBE/COMMIT streaming-control pair, and the control-plane registers
// (request-error-code, brightness, pending selector). It satisfies the
// narrower Device interfaces the control and orchestrator packages declare,
// so neither of those packages imports this one — this package imports
// them instead, the way the teacher's device package sits above v4l2
// without v4l2 ever importing device back.
package uvcgadget

import (
	"sync/atomic"

	"github.com/go4vl-uvc/uvcgadget/internal/logging"
	"github.com/go4vl-uvc/uvcgadget/negotiator"
	"github.com/go4vl-uvc/uvcgadget/v4l2uapi"
)

// Role distinguishes standalone frame synthesis from a capture-device bridge.
type Role int

const (
	RoleStandalone Role = iota
	RoleBridged
)

// Speed is the negotiated USB link speed, used with Bulk to derive MaxPacket
// per §6's table.
type Speed int

const (
	SpeedFull Speed = iota
	SpeedHigh
	SpeedSuper
)

// MaxPacketSize derives dwMaxPacketSize from {speed, bulk} per spec §6.
func MaxPacketSize(speed Speed, bulk bool) uint32 {
	switch speed {
	case SpeedFull:
		if bulk {
			return 64
		}
		return 1023
	case SpeedHigh:
		if bulk {
			return 512
		}
		return 1024
	case SpeedSuper:
		return 1024
	default:
		return 1024
	}
}

// Config carries the startup configuration this agent is built from (the
// CLI surface of §6, already parsed — parsing itself is out of scope).
type Config struct {
	Role           Role
	BulkMode       bool
	PixelFormat    uint32 // catalog.Formats[...].FourCC; initial active format and probe/commit format
	Width, Height  uint32
	ImageBlob      []byte // preloaded MJPEG still, standalone MJPEG mode only
	Speed          Speed
	Mult           uint32
	Burst          uint32
	NBufs          uint32
	GadgetIOMode   v4l2uapi.MemType
	CaptureIOMode  v4l2uapi.MemType
	UVCDevicePath  string
	CaptureDevPath string
}

// DeviceState is the single instance of process-wide control-plane and
// device-identity state described by spec §3's DeviceState record.
type DeviceState struct {
	cfg Config
	log *logging.Logger

	probe  negotiator.StreamingControl
	commit negotiator.StreamingControl

	activePixelFormat uint32
	activeWidth       uint32
	activeHeight      uint32

	color             uint8
	brightness        atomic.Uint32 // holds a uint16 value, 0..255
	errorCode         uint8
	pendingSelector   uint8
	firstBufferQueued bool
	shutdownRequested bool
	gadgetStreaming   bool

	// captureControl, when non-nil, is the open capture endpoint used to
	// best-effort propagate brightness writes in bridged mode (§4.3 data
	// phase). Nil in standalone mode.
	captureControl controlSetter
}

// controlSetter is the slice of v4l2uapi.VideoEndpoint this package needs
// for best-effort brightness propagation, kept narrow so tests can fake it
// without building a full VideoEndpoint.
type controlSetter interface {
	SetControl(id v4l2uapi.CtrlID, val v4l2uapi.CtrlValue) error
}

// New builds a DeviceState from cfg, with brightness defaulted to 127 per
// spec §3, and probe/commit pre-filled from the catalog at the configured
// format and its first (640x360) frame; the configured resolution does not
// affect them.
func New(cfg Config, log *logging.Logger) *DeviceState {
	d := &DeviceState{
		cfg:               cfg,
		log:               log,
		activePixelFormat: cfg.PixelFormat,
		activeWidth:       cfg.Width,
		activeHeight:      cfg.Height,
	}
	d.brightness.Store(127)

	tp := d.TransferParams()
	formatIdx := formatCatalogIndex(cfg.PixelFormat)
	d.probe, _ = negotiator.FillStreamingControl(formatIdx, 1, tp, d.ImageBlobSize())
	d.commit, _ = negotiator.FillStreamingControl(formatIdx, 1, tp, d.ImageBlobSize())
	return d
}

// formatCatalogIndex resolves a FourCC to its 1-based catalog index; it
// defaults to 1 (YUYV) for an unrecognized value rather than erroring, since
// Config validation is out of scope (§1) and the catalog only ever has two
// entries to choose between.
func formatCatalogIndex(fourCC uint32) int {
	if fourCC == v4l2uapi.PixelFmtMJPEG {
		return 2
	}
	return 1
}

// --- control.Device ---

func (d *DeviceState) ErrorCode() uint8     { return d.errorCode }
func (d *DeviceState) SetErrorCode(c uint8) { d.errorCode = c }

func (d *DeviceState) Brightness() uint16 { return uint16(d.brightness.Load()) }

func (d *DeviceState) PendingSelector() uint8      { return d.pendingSelector }
func (d *DeviceState) SetPendingSelector(cs uint8) { d.pendingSelector = cs }

func (d *DeviceState) Probe() *negotiator.StreamingControl  { return &d.probe }
func (d *DeviceState) Commit() *negotiator.StreamingControl { return &d.commit }

func (d *DeviceState) TransferParams() negotiator.TransferParams {
	return negotiator.TransferParams{
		Bulk:      d.cfg.BulkMode,
		MaxPacket: MaxPacketSize(d.cfg.Speed, d.cfg.BulkMode),
		Mult:      d.cfg.Mult,
		Burst:     d.cfg.Burst,
	}
}

func (d *DeviceState) ImageBlobSize() uint32 {
	return uint32(len(d.cfg.ImageBlob))
}

// SetBrightness applies a validated (0..255) brightness value and, in
// bridged mode, best-effort propagates it to the capture device's
// brightness control; propagation failures are logged, never surfaced to
// the host (§4.3 data phase).
func (d *DeviceState) SetBrightness(v uint16) {
	d.brightness.Store(uint32(v))
	if d.cfg.Role == RoleBridged && d.captureControl != nil {
		if err := d.captureControl.SetControl(v4l2uapi.CtrlBrightness, int32(v)); err != nil {
			d.log.Debugf("brightness propagation to capture device failed: %v", err)
		}
	}
}

// LatchActiveFormat records the format/dimensions a COMMIT resolved to (P5).
func (d *DeviceState) LatchActiveFormat(pixelFormat uint32, width, height uint32) {
	d.activePixelFormat = pixelFormat
	d.activeWidth = width
	d.activeHeight = height
	d.log.Infof("committed format %s %dx%d", v4l2uapi.PixelFormats[pixelFormat], width, height)
	if pixelFormat == v4l2uapi.PixelFmtMJPEG && len(d.cfg.ImageBlob) == 0 {
		d.log.Infof("warning: MJPEG committed but no still image loaded")
	}
}

// SetCaptureControl records the capture endpoint used for best-effort
// brightness propagation; called once after the capture endpoint opens in
// bridged mode.
func (d *DeviceState) SetCaptureControl(ep controlSetter) {
	d.captureControl = ep
}

// --- orchestrator.Device ---

func (d *DeviceState) Bulk() bool    { return d.cfg.BulkMode }
func (d *DeviceState) Bridged() bool { return d.cfg.Role == RoleBridged }

func (d *DeviceState) ShutdownRequested() bool { return d.shutdownRequested }
func (d *DeviceState) RequestShutdown()        { d.shutdownRequested = true }

func (d *DeviceState) FirstBufferQueued() bool      { return d.firstBufferQueued }
func (d *DeviceState) SetFirstBufferQueued(v bool)  { d.firstBufferQueued = v }

func (d *DeviceState) GadgetStreaming() bool     { return d.gadgetStreaming }
func (d *DeviceState) SetGadgetStreaming(v bool) { d.gadgetStreaming = v }

func (d *DeviceState) Color() uint8     { return d.color }
func (d *DeviceState) SetColor(c uint8) { d.color = c }

func (d *DeviceState) ActivePixelFormat() uint32 { return d.activePixelFormat }
func (d *DeviceState) ActiveWidth() uint32       { return d.activeWidth }
func (d *DeviceState) ActiveHeight() uint32      { return d.activeHeight }

func (d *DeviceState) ImageBlob() []byte { return d.cfg.ImageBlob }

func (d *DeviceState) Logger() *logging.Logger { return d.log }
