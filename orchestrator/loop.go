// Package orchestrator runs the single-threaded, readiness-driven event
// loop that ties the UVC gadget control plane (package control) to the
// dual-queue buffer pump between a capture device and the gadget's video
// output queue. It replaces the teacher's goroutine-plus-channel streaming
// loop with one cooperative loop over a single readiness wait, the way
// the source's main() select() loop drives uvc_events_process and the
// capture/output queue pumps from one thread.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/go4vl-uvc/uvcgadget/bufferpool"
	"github.com/go4vl-uvc/uvcgadget/control"
	"github.com/go4vl-uvc/uvcgadget/internal/logging"
	"github.com/go4vl-uvc/uvcgadget/internal/uvcerr"
	"github.com/go4vl-uvc/uvcgadget/synth"
	"github.com/go4vl-uvc/uvcgadget/v4l2uapi"
)

// classifyIOError maps a v4l2uapi errno-classified buffer I/O failure onto
// this loop's taxonomy: ENODEV-class errors are a host/device departure
// (§4.1), a would-block/interrupted condition is transient and simply
// returns control to the loop, anything else is fatal.
func classifyIOError(op string, err error) error {
	switch {
	case errors.Is(err, v4l2uapi.ErrorDeviceGone):
		return fmt.Errorf("%w: %s: %v", uvcerr.HostDisconnect, op, err)
	case errors.Is(err, v4l2uapi.ErrorTemporary), errors.Is(err, v4l2uapi.ErrorTimeout), errors.Is(err, v4l2uapi.ErrorInterrupted):
		return fmt.Errorf("%w: %s: %v", uvcerr.Transient, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", uvcerr.Fatal, op, err)
	}
}

// addressToUserPtr returns the userspace pointer value to hand to
// VIDIOC_QBUF for a user-pointer buffer backed by addr.
func addressToUserPtr(addr []byte) uintptr {
	if len(addr) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&addr[0]))
}

// bridgedTimeout is the readiness-wait timeout in bridged mode (§4.5); a
// zero timeout below means "wait indefinitely", used in standalone mode.
const bridgedTimeout = 2 * time.Second

// Device is the device-state surface the loop reads and mutates across
// iterations, beyond the control dispatcher's narrower control.Device.
type Device interface {
	control.Device

	Bulk() bool
	Bridged() bool

	ShutdownRequested() bool
	RequestShutdown()

	FirstBufferQueued() bool
	SetFirstBufferQueued(bool)

	GadgetStreaming() bool
	SetGadgetStreaming(bool)

	// Color is the YUYV synthesis color byte (standalone mode only).
	Color() uint8
	SetColor(uint8)

	ActivePixelFormat() uint32
	ActiveWidth() uint32
	ActiveHeight() uint32

	// ImageBlob is the fixed MJPEG image served in standalone MJPEG mode.
	ImageBlob() []byte

	Logger() *logging.Logger
}

// Config carries the buffer-allocation parameters the loop needs but that
// don't belong on Device: how many buffers to request and which memory
// model each endpoint uses. Per §4.4 rule #1 (mode complementarity),
// GadgetMem and CaptureMem must differ when both endpoints are in play.
type Config struct {
	NBufs      uint32
	GadgetMem  v4l2uapi.MemType
	CaptureMem v4l2uapi.MemType
}

// Loop is the event loop for one run of the agent.
type Loop struct {
	dev Device
	cfg Config

	gadget  v4l2uapi.VideoEndpoint
	capture v4l2uapi.VideoEndpoint // nil in standalone mode

	gadgetPool  *bufferpool.Pool
	capturePool *bufferpool.Pool

	log *logging.Logger
}

// New builds a Loop. capture is nil in standalone mode.
func New(dev Device, cfg Config, gadget, capture v4l2uapi.VideoEndpoint) *Loop {
	return &Loop{dev: dev, cfg: cfg, gadget: gadget, capture: capture, log: dev.Logger().WithTag("orchestrator")}
}

// Run drives the event loop until ctx is cancelled, shutdown completes
// (STREAMOFF teardown after a shutdown request drains the queues), or a
// Fatal error occurs.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := time.Duration(0)
		if l.dev.Bridged() {
			timeout = bridgedTimeout
		}

		captureFd := -1
		if l.capture != nil {
			captureFd = int(l.capture.Fd())
		}

		ready, err := waitReady(l.gadget.Fd(), captureFd, l.capture != nil, timeout)
		if err != nil {
			if uvcerr.Is(err, uvcerr.Transient) {
				continue
			}
			return fmt.Errorf("orchestrator: %w", uvcerr.Fatal)
		}

		if ready.gadgetExcept {
			if err := l.handleGadgetEvent(); err != nil {
				if uvcerr.Is(err, uvcerr.HostDisconnect) {
					l.dev.RequestShutdown()
				} else if !uvcerr.Is(err, uvcerr.Transient) {
					return err
				}
			}
		}

		if ready.gadgetWrite {
			if err := l.pumpGadgetWrite(); err != nil {
				if uvcerr.Is(err, uvcerr.HostDisconnect) {
					l.dev.RequestShutdown()
				} else if !uvcerr.Is(err, uvcerr.Transient) {
					return err
				}
			}
		}

		if ready.captureRead {
			if err := l.pumpCaptureRead(); err != nil {
				if uvcerr.Is(err, uvcerr.HostDisconnect) {
					l.dev.RequestShutdown()
				} else if !uvcerr.Is(err, uvcerr.Transient) {
					return err
				}
			}
		}

		if l.dev.ShutdownRequested() && l.drained() {
			return nil
		}
	}
}

func (l *Loop) drained() bool {
	if l.gadgetPool == nil {
		return true
	}
	return l.gadgetPool.Outstanding() == 0
}

// handleGadgetEvent dequeues and handles one pending gadget event: a
// connect/disconnect notification, a STREAMON/STREAMOFF transition, or a
// control-interface setup/data event (§4.3, §4.4).
func (l *Loop) handleGadgetEvent() error {
	ev, err := l.gadget.DequeueEvent()
	if err != nil {
		return fmt.Errorf("%w: dequeue event: %v", uvcerr.Fatal, err)
	}

	switch ev.GetType() {
	case v4l2uapi.UVCEventConnect:
		l.log.Infof("gadget connected")
		return nil

	case v4l2uapi.UVCEventDisconnect:
		l.log.Infof("gadget disconnected")
		return uvcerr.HostDisconnect

	case v4l2uapi.UVCEventStreamOn:
		if l.dev.Bulk() {
			// Rule #5: in bulk mode, pool allocation/streamon happens at
			// COMMIT latch instead of here.
			return nil
		}
		return l.startStreaming()

	case v4l2uapi.UVCEventStreamOff:
		return l.teardownStreaming()

	case v4l2uapi.UVCEventSetup:
		sp, err := v4l2uapi.DecodeSetupPacket(ev.GetRawData())
		if err != nil {
			return fmt.Errorf("%w: %v", uvcerr.ProtocolViolation, err)
		}
		resp := control.Dispatch(l.dev, sp)
		l.log.Debugf("setup bRequest=%#x wValue=%#x wIndex=%#x -> length=%d ts=%s", sp.BRequest, sp.WValue, sp.WIndex, resp.Length, ev.GetTimestamp())
		return l.gadget.SendResponse(resp.ToRequestData())

	case v4l2uapi.UVCEventData:
		rd, err := v4l2uapi.DecodeRequestData(ev.GetRawData())
		if err != nil {
			return fmt.Errorf("%w: %v", uvcerr.ProtocolViolation, err)
		}
		n := rd.Length
		if n < 0 || int(n) > len(rd.Data) {
			return fmt.Errorf("%w: invalid request-data length %d", uvcerr.ProtocolViolation, n)
		}
		isCommit := l.dev.PendingSelector() == control.CSCommit
		if err := control.ProcessData(l.dev, rd.Data[:n]); err != nil {
			return err
		}
		if isCommit {
			// §4.4 rule #5 / §9 open question (c): bulk mode defers pool
			// allocation and gadget STREAMON to the COMMIT data phase
			// instead of the STREAMON event.
			return l.OnCommit()
		}
		return nil

	default:
		return nil
	}
}

// OnCommit must be called by the control layer (or its caller) right after
// a COMMIT data phase lands, to trigger bulk mode's COMMIT-triggered
// streaming start (§4.4 rule #5).
func (l *Loop) OnCommit() error {
	if !l.dev.Bulk() {
		return nil
	}
	return l.startStreaming()
}

// startStreaming implements §4.4 rule #5: allocate the gadget pool (and, in
// bridged mode, the capture pool, pre-queued and streaming). In standalone
// mode it then synthesizes and queues every gadget buffer, the first of
// which turns gadget streaming on; in bridged mode the gadget queue is
// primed later by the first forwarded capture buffer.
func (l *Loop) startStreaming() error {
	if err := l.allocateGadgetPool(); err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}

	if !l.dev.Bridged() {
		for i := 0; i < l.gadgetPool.Size(); i++ {
			if err := l.synthesizeAndQueue(uint32(i)); err != nil {
				return err
			}
		}
		return nil
	}

	if l.dev.Bridged() {
		if err := l.allocateCapturePool(); err != nil {
			return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
		}
		if err := l.primeCapture(); err != nil {
			return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
		}
		if err := l.capture.StreamOn(); err != nil {
			return fmt.Errorf("%w: stream on capture: %v", uvcerr.Fatal, err)
		}
		l.capturePool.SetStreaming(true)
	}

	return nil
}

// teardownStreaming implements §4.4 rule #6.
func (l *Loop) teardownStreaming() error {
	if l.capture != nil && l.capturePool != nil {
		_ = l.capture.StreamOff()
		l.unmapPool(l.capture, l.capturePool)
		l.capturePool.Reset()
		l.capturePool.SetStreaming(false)
		_, _ = l.capture.RequestBuffers(0)
	}
	if l.gadgetPool != nil {
		_ = l.gadget.StreamOff()
		l.unmapPool(l.gadget, l.gadgetPool)
		l.gadgetPool.Reset()
		_, _ = l.gadget.RequestBuffers(0)
	}
	l.dev.SetFirstBufferQueued(false)
	l.dev.SetGadgetStreaming(false)
	return nil
}

func (l *Loop) unmapPool(ep v4l2uapi.VideoEndpoint, pool *bufferpool.Pool) {
	if pool.Mode() != bufferpool.MemoryMapped {
		return
	}
	for i := 0; i < pool.Size(); i++ {
		buf, err := pool.Buffer(uint32(i))
		if err != nil || buf.Address == nil {
			continue
		}
		_ = ep.UnmapBuffer(buf.Address)
	}
}

func (l *Loop) allocateGadgetPool() error {
	pool, err := allocatePool(l.gadget, l.cfg.GadgetMem, l.cfg.NBufs, nil)
	if err != nil {
		return err
	}
	l.gadgetPool = pool
	return nil
}

func (l *Loop) allocateCapturePool() error {
	pool, err := allocatePool(l.capture, l.cfg.CaptureMem, l.cfg.NBufs, l.gadgetPool)
	if err != nil {
		return err
	}
	l.capturePool = pool
	return nil
}

// allocatePool requests N buffers on ep and, for mapped mode, maps each one;
// for user-pointer mode it borrows backing memory from peer (the gadget
// pool, when allocating the capture pool) under mode complementarity (rule
// #1): the same index's mapped buffer on one side backs the user-pointer
// buffer on the other, so a dequeued frame reaches its peer with no copy.
func allocatePool(ep v4l2uapi.VideoEndpoint, memType v4l2uapi.MemType, n uint32, peer *bufferpool.Pool) (*bufferpool.Pool, error) {
	granted, err := ep.RequestBuffers(n)
	if err != nil {
		return nil, err
	}

	mode := bufferpool.MemoryUserPointer
	if memType == v4l2uapi.MemTypeMMAP {
		mode = bufferpool.MemoryMapped
	}

	bufs := make([]bufferpool.Buffer, granted)
	for i := range bufs {
		index := uint32(i)
		b := bufferpool.Buffer{Index: index, Kind: mode}
		switch mode {
		case bufferpool.MemoryMapped:
			qb, err := ep.QueryBuffer(index)
			if err != nil {
				return nil, err
			}
			addr, err := ep.MapBuffer(int64(qb.Offset), int(qb.Length))
			if err != nil {
				return nil, err
			}
			b.Length = qb.Length
			b.Address = addr
		case bufferpool.MemoryUserPointer:
			if peer != nil && index < uint32(peer.Size()) {
				pb, _ := peer.Buffer(index)
				b.Address = pb.Address
				b.Length = pb.Length
			}
		}
		bufs[i] = b
	}

	return bufferpool.New(mode, bufs)
}

// primeCapture enqueues every capture buffer before capture streaming starts.
func (l *Loop) primeCapture() error {
	for i := 0; i < l.capturePool.Size(); i++ {
		if err := l.enqueueCapture(uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) enqueueCapture(index uint32) error {
	buf, err := l.capturePool.Buffer(index)
	if err != nil {
		return err
	}
	var userPtr uintptr
	if buf.Kind == bufferpool.MemoryUserPointer {
		userPtr = addressToUserPtr(buf.Address)
	}
	if _, err := l.capture.Enqueue(index, 0, userPtr, buf.Length); err != nil {
		return err
	}
	return l.capturePool.Enqueue()
}

// pumpGadgetWrite services the gadget's write-readiness: bridged mode
// applies rules #2-#4, standalone mode synthesizes a frame directly.
func (l *Loop) pumpGadgetWrite() error {
	if l.gadgetPool == nil {
		return nil
	}

	buf, err := l.gadget.Dequeue()
	if err != nil {
		return classifyIOError("dequeue gadget buffer", err)
	}
	if err := l.gadgetPool.Dequeue(); err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}

	poolBuf, err := l.gadgetPool.Buffer(buf.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}
	poolBuf.BytesUsed = buf.BytesUsed
	poolBuf.Flags = buf.Flags
	if err := l.gadgetPool.SetBuffer(buf.Index, poolBuf); err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}

	if poolBuf.HasError() {
		// Rule #3: drop the buffer, send no response, shut down.
		return uvcerr.HostDisconnect
	}

	if !l.dev.Bridged() {
		return l.synthesizeAndQueue(buf.Index)
	}

	// Bridged: this index's backing memory aliased the capture buffer that
	// was forwarded here under mode complementarity, so the host was the
	// sole owner while the gadget held it. Now that the gadget has
	// dequeued it, hand that index back to the capture device; doing this
	// here (rather than right after the forward in pumpCaptureRead) keeps
	// the capture driver from DMA'ing a new frame into memory the host
	// might still be reading.
	return l.enqueueCapture(buf.Index)
}

func (l *Loop) synthesizeAndQueue(index uint32) error {
	buf, err := l.gadgetPool.Buffer(index)
	if err != nil {
		return err
	}

	var bytesUsed uint32
	if blob := l.dev.ImageBlob(); len(blob) > 0 {
		bytesUsed, err = synth.MJPEG(buf.Address, blob)
		if err != nil {
			return err
		}
	} else {
		color := l.dev.Color()
		var next uint8
		bytesUsed, next, err = synth.YUYV(buf.Address, l.dev.ActiveWidth(), l.dev.ActiveHeight(), color)
		if err != nil {
			return err
		}
		l.dev.SetColor(next)
	}

	return l.queueGadgetBuffer(index, bytesUsed, buf.Address)
}

func (l *Loop) queueGadgetBuffer(index uint32, bytesUsed uint32, address []byte) error {
	var userPtr uintptr
	if l.cfg.GadgetMem == v4l2uapi.MemTypeUserPtr {
		userPtr = addressToUserPtr(address)
	}

	_, err := l.gadget.Enqueue(index, bytesUsed, userPtr, uint32(len(address)))
	if err != nil {
		return classifyIOError("queue gadget buffer", err)
	}
	if err := l.gadgetPool.Enqueue(); err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}

	if !l.dev.FirstBufferQueued() {
		// Rule #4: the first buffer must be queued before STREAMON.
		l.dev.SetFirstBufferQueued(true)
		if err := l.gadget.StreamOn(); err != nil {
			return fmt.Errorf("%w: stream on gadget: %v", uvcerr.Fatal, err)
		}
		l.dev.SetGadgetStreaming(true)
		l.gadgetPool.SetStreaming(true)
	}
	return nil
}

// pumpCaptureRead services the capture fd's read-readiness: dequeue a
// capture buffer and, if rule #2's pump invariant holds, forward it to the
// gadget queue.
func (l *Loop) pumpCaptureRead() error {
	if l.capturePool == nil {
		return nil
	}

	buf, err := l.capture.Dequeue()
	if err != nil {
		return classifyIOError("dequeue capture buffer", err)
	}
	if err := l.capturePool.Dequeue(); err != nil {
		return fmt.Errorf("%w: %v", uvcerr.Fatal, err)
	}

	// Rule #2: the first transfer primes the gadget queue unconditionally
	// (that transfer is what sets the first-buffer flag); every transfer
	// after that is gated on the pump invariant.
	canForward := l.capturePool.Streaming() &&
		(!l.dev.FirstBufferQueued() || l.pumpInvariantHolds())

	if canForward {
		if err := l.queueGadgetBuffer(buf.Index, buf.BytesUsed, capturedAddress(l.capturePool, buf.Index)); err != nil {
			return err
		}
		// Ownership of this index's backing memory now belongs to the
		// gadget/host side, aliased via mode complementarity; re-enqueuing
		// it here would let the capture driver DMA into memory the host
		// hasn't read yet. pumpGadgetWrite hands it back once the gadget
		// dequeues it.
		return nil
	}

	// No hand-off occurred, so this index's backing memory never left
	// userspace ownership; requeue it immediately to keep the capture
	// pool full.
	return l.enqueueCapture(buf.Index)
}

// pumpInvariantHolds implements rule #2(c): out.dequeued + 1 >= out.enqueued,
// or shutdown is already pending.
func (l *Loop) pumpInvariantHolds() bool {
	if l.dev.ShutdownRequested() {
		return true
	}
	stats := l.gadgetPool.Stats()
	return stats.Dequeued+1 >= stats.Enqueued
}

func capturedAddress(pool *bufferpool.Pool, index uint32) []byte {
	buf, err := pool.Buffer(index)
	if err != nil {
		return nil
	}
	return buf.Address
}
