package orchestrator

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/go4vl-uvc/uvcgadget/bufferpool"
	"github.com/go4vl-uvc/uvcgadget/control"
	"github.com/go4vl-uvc/uvcgadget/internal/logging"
	"github.com/go4vl-uvc/uvcgadget/internal/uvcerr"
	"github.com/go4vl-uvc/uvcgadget/negotiator"
	"github.com/go4vl-uvc/uvcgadget/v4l2uapi"
)

// discardWriter throws away every write, keeping test logs quiet.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logging.Logger {
	return logging.New(logging.LevelDebug, "test", io.Writer(discardWriter{}))
}

// fakeEndpoint is a v4l2uapi.VideoEndpoint that never touches a real device:
// buffer allocation is simulated in memory, and dequeues are served from a
// queue the test pushes onto directly, standing in for "the kernel (or the
// host) has handed a buffer back".
type fakeEndpoint struct {
	name    string
	bufType v4l2uapi.BufType
	memType v4l2uapi.MemType
	fd      uintptr

	bufLen    uint32
	nextMap   int
	requested uint32

	ready []v4l2uapi.Buffer // buffers waiting to be Dequeue()'d

	enqueueCount int
	dequeueCount int
	enqueueErr   error

	streamOnCalls, streamOffCalls int

	events []*v4l2uapi.Event

	responses []v4l2uapi.RequestData
	format    v4l2uapi.PixFormat
}

func newFakeEndpoint(bufType v4l2uapi.BufType, memType v4l2uapi.MemType, bufLen uint32) *fakeEndpoint {
	return &fakeEndpoint{bufType: bufType, memType: memType, bufLen: bufLen}
}

func (e *fakeEndpoint) Name() string            { return e.name }
func (e *fakeEndpoint) Fd() uintptr             { return e.fd }
func (e *fakeEndpoint) BufType() v4l2uapi.BufType { return e.bufType }
func (e *fakeEndpoint) MemType() v4l2uapi.MemType { return e.memType }

func (e *fakeEndpoint) SetFormat(pf v4l2uapi.PixFormat) (v4l2uapi.PixFormat, error) {
	e.format = pf
	return pf, nil
}

func (e *fakeEndpoint) GetFormat() (v4l2uapi.PixFormat, error) { return e.format, nil }

func (e *fakeEndpoint) RequestBuffers(n uint32) (uint32, error) {
	e.requested = n
	e.nextMap = 0
	if n == 0 {
		e.ready = nil
	}
	return n, nil
}

func (e *fakeEndpoint) QueryBuffer(index uint32) (v4l2uapi.Buffer, error) {
	return v4l2uapi.Buffer{Index: index, Length: e.bufLen, BufType: e.bufType, Memory: e.memType}, nil
}

func (e *fakeEndpoint) MapBuffer(offset int64, length int) ([]byte, error) {
	e.nextMap++
	return make([]byte, length), nil
}

func (e *fakeEndpoint) UnmapBuffer(addr []byte) error { return nil }

func (e *fakeEndpoint) Enqueue(index uint32, bytesUsed uint32, userPtr uintptr, length uint32) (v4l2uapi.Buffer, error) {
	if e.enqueueErr != nil {
		return v4l2uapi.Buffer{}, e.enqueueErr
	}
	e.enqueueCount++
	return v4l2uapi.Buffer{Index: index, BytesUsed: bytesUsed, Length: length, BufType: e.bufType, Memory: e.memType}, nil
}

func (e *fakeEndpoint) Dequeue() (v4l2uapi.Buffer, error) {
	if len(e.ready) == 0 {
		return v4l2uapi.Buffer{}, errors.New("fake endpoint: nothing ready to dequeue")
	}
	buf := e.ready[0]
	e.ready = e.ready[1:]
	e.dequeueCount++
	return buf, nil
}

// pushReady queues a buffer for the next Dequeue() call.
func (e *fakeEndpoint) pushReady(index uint32, bytesUsed uint32) {
	e.ready = append(e.ready, v4l2uapi.Buffer{Index: index, BytesUsed: bytesUsed, BufType: e.bufType, Memory: e.memType})
}

func (e *fakeEndpoint) StreamOn() error  { e.streamOnCalls++; return nil }
func (e *fakeEndpoint) StreamOff() error { e.streamOffCalls++; return nil }

func (e *fakeEndpoint) SetControl(id v4l2uapi.CtrlID, val v4l2uapi.CtrlValue) error { return nil }
func (e *fakeEndpoint) GetControl(id v4l2uapi.CtrlID) (v4l2uapi.CtrlValue, error)  { return 0, nil }

func (e *fakeEndpoint) SubscribeEvent(t v4l2uapi.EventType) error { return nil }

func (e *fakeEndpoint) DequeueEvent() (*v4l2uapi.Event, error) {
	if len(e.events) == 0 {
		return nil, errors.New("fake endpoint: no event pending")
	}
	ev := e.events[0]
	e.events = e.events[1:]
	return ev, nil
}

// pushEvent queues an event for the next DequeueEvent() call.
func (e *fakeEndpoint) pushEvent(t v4l2uapi.EventType, raw []byte) {
	e.events = append(e.events, v4l2uapi.NewTestEvent(t, raw))
}

func (e *fakeEndpoint) SendResponse(rd v4l2uapi.RequestData) error {
	e.responses = append(e.responses, rd)
	return nil
}

func (e *fakeEndpoint) Close() error { return nil }

// fakeDevice is a minimal orchestrator.Device (and control.Device) that
// tracks just enough state for the loop's invariants without pulling in the
// root package's DeviceState.
type fakeDevice struct {
	bulk    bool
	bridged bool

	errorCode       uint8
	brightness      uint16
	pendingSelector uint8
	probe           negotiator.StreamingControl
	commit          negotiator.StreamingControl
	tp              negotiator.TransferParams
	imageBlobSize   uint32

	shutdownRequested bool
	firstBufferQueued bool
	firstBufferFlips  int
	gadgetStreaming   bool
	color             uint8

	activePixelFormat uint32
	activeWidth       uint32
	activeHeight      uint32
	imageBlob         []byte

	log *logging.Logger
}

func newFakeDevice(bulk, bridged bool) *fakeDevice {
	return &fakeDevice{
		bulk: bulk, bridged: bridged,
		activeWidth: 640, activeHeight: 360,
		log: testLogger(),
	}
}

func (d *fakeDevice) ErrorCode() uint8     { return d.errorCode }
func (d *fakeDevice) SetErrorCode(c uint8) { d.errorCode = c }

func (d *fakeDevice) Brightness() uint16 { return d.brightness }

func (d *fakeDevice) PendingSelector() uint8      { return d.pendingSelector }
func (d *fakeDevice) SetPendingSelector(cs uint8) { d.pendingSelector = cs }

func (d *fakeDevice) Probe() *negotiator.StreamingControl  { return &d.probe }
func (d *fakeDevice) Commit() *negotiator.StreamingControl { return &d.commit }

func (d *fakeDevice) TransferParams() negotiator.TransferParams { return d.tp }
func (d *fakeDevice) ImageBlobSize() uint32                     { return d.imageBlobSize }

func (d *fakeDevice) SetBrightness(v uint16) { d.brightness = v }

func (d *fakeDevice) LatchActiveFormat(pixelFormat uint32, width, height uint32) {
	d.activePixelFormat = pixelFormat
	d.activeWidth = width
	d.activeHeight = height
}

func (d *fakeDevice) Bulk() bool    { return d.bulk }
func (d *fakeDevice) Bridged() bool { return d.bridged }

func (d *fakeDevice) ShutdownRequested() bool { return d.shutdownRequested }
func (d *fakeDevice) RequestShutdown()        { d.shutdownRequested = true }

func (d *fakeDevice) FirstBufferQueued() bool {
	return d.firstBufferQueued
}
func (d *fakeDevice) SetFirstBufferQueued(v bool) {
	if v && !d.firstBufferQueued {
		d.firstBufferFlips++
	}
	d.firstBufferQueued = v
}

func (d *fakeDevice) GadgetStreaming() bool     { return d.gadgetStreaming }
func (d *fakeDevice) SetGadgetStreaming(v bool) { d.gadgetStreaming = v }

func (d *fakeDevice) Color() uint8     { return d.color }
func (d *fakeDevice) SetColor(c uint8) { d.color = c }

func (d *fakeDevice) ActivePixelFormat() uint32 { return d.activePixelFormat }
func (d *fakeDevice) ActiveWidth() uint32       { return d.activeWidth }
func (d *fakeDevice) ActiveHeight() uint32      { return d.activeHeight }

func (d *fakeDevice) ImageBlob() []byte { return d.imageBlob }

func (d *fakeDevice) Logger() *logging.Logger { return d.log }

// --- P2: first_buffer_queued transitions false->true exactly once, and
// only after a buffer has actually been enqueued. ---

func TestFirstBufferQueuedTransitionsOnceOnSuccessfulEnqueue(t *testing.T) {
	dev := newFakeDevice(false, false)
	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	loop := New(dev, Config{NBufs: 4, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, nil)

	if err := loop.allocateGadgetPool(); err != nil {
		t.Fatalf("allocateGadgetPool: %v", err)
	}

	if dev.FirstBufferQueued() {
		t.Fatalf("first buffer queued before any enqueue")
	}

	buf, _ := loop.gadgetPool.Buffer(0)
	if err := loop.queueGadgetBuffer(0, 100, buf.Address); err != nil {
		t.Fatalf("queueGadgetBuffer: %v", err)
	}
	if !dev.FirstBufferQueued() {
		t.Fatalf("first buffer queued flag did not flip after enqueue")
	}
	if gadget.streamOnCalls != 1 {
		t.Fatalf("expected exactly one StreamOn call, got %d", gadget.streamOnCalls)
	}

	// Queuing a second buffer must not flip the flag again.
	buf2, _ := loop.gadgetPool.Buffer(1)
	if err := loop.queueGadgetBuffer(1, 100, buf2.Address); err != nil {
		t.Fatalf("queueGadgetBuffer (2nd): %v", err)
	}
	if dev.firstBufferFlips != 1 {
		t.Fatalf("first_buffer_queued flipped %d times, want exactly 1", dev.firstBufferFlips)
	}
	if gadget.streamOnCalls != 1 {
		t.Fatalf("StreamOn called again on the second enqueue: %d calls", gadget.streamOnCalls)
	}
}

func TestQueueGadgetBufferFailureDoesNotFlipFirstBufferFlag(t *testing.T) {
	dev := newFakeDevice(false, false)
	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	gadget.enqueueErr = uvcerr.HostDisconnect
	loop := New(dev, Config{NBufs: 2, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, nil)

	if err := loop.allocateGadgetPool(); err != nil {
		t.Fatalf("allocateGadgetPool: %v", err)
	}
	buf, _ := loop.gadgetPool.Buffer(0)
	if err := loop.queueGadgetBuffer(0, 10, buf.Address); err == nil {
		t.Fatalf("expected queueGadgetBuffer to fail")
	}
	if dev.FirstBufferQueued() {
		t.Fatalf("first_buffer_queued set despite a failed enqueue")
	}
}

// --- P5: after a COMMIT data phase lands, active_width/height/pixfmt match
// the committed (format, frame). ---

func TestCommitDataPhaseLatchesActiveFormat(t *testing.T) {
	dev := newFakeDevice(true /* bulk */, false)
	dev.tp = negotiator.TransferParams{Bulk: true, MaxPacket: 512}
	dev.pendingSelector = control.CSCommit
	// Standalone MJPEG serves a preloaded still image; the commit's
	// streaming start synthesizes every gadget buffer from it.
	dev.imageBlob = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	dev.imageBlobSize = uint32(len(dev.imageBlob))

	ctrl, _ := negotiator.FillStreamingControl(2 /* MJPEG */, 2 /* 1280x720 */, dev.tp, dev.imageBlobSize)
	wire := ctrl.Marshal()

	payload := make([]byte, 4+len(wire))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(wire)))
	copy(payload[4:], wire[:])

	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	gadget.pushEvent(v4l2uapi.UVCEventData, payload)

	loop := New(dev, Config{NBufs: 2, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, nil)

	if err := loop.handleGadgetEvent(); err != nil {
		t.Fatalf("handleGadgetEvent: %v", err)
	}

	if dev.ActivePixelFormat() != v4l2uapi.PixelFmtMJPEG {
		t.Fatalf("active pixel format = %#x, want MJPEG", dev.ActivePixelFormat())
	}
	if dev.ActiveWidth() != 1280 || dev.ActiveHeight() != 720 {
		t.Fatalf("active dimensions = %dx%d, want 1280x720", dev.ActiveWidth(), dev.ActiveHeight())
	}
	// Bulk mode: COMMIT must itself trigger pool allocation/STREAMON (rule #5).
	if gadget.streamOnCalls != 1 {
		t.Fatalf("bulk-mode commit did not trigger gadget StreamOn, got %d calls", gadget.streamOnCalls)
	}
	if loop.gadgetPool == nil {
		t.Fatalf("bulk-mode commit did not allocate the gadget pool")
	}
}

// --- S5: host disconnect during enqueue sets shutdown, stops forwarding,
// and a subsequent STREAMOFF tears down cleanly. ---

func TestHostDisconnectDuringEnqueueStopsForwarding(t *testing.T) {
	dev := newFakeDevice(false, true)
	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	capture := newFakeEndpoint(v4l2uapi.BufTypeVideoCapture, v4l2uapi.MemTypeUserPtr, 4096)
	loop := New(dev, Config{NBufs: 4, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, capture)

	if err := loop.startStreaming(); err != nil {
		t.Fatalf("startStreaming: %v", err)
	}

	gadget.enqueueErr = v4l2uapi.ErrorDeviceGone
	capture.pushReady(0, 500)

	err := loop.pumpCaptureRead()
	if !uvcerr.Is(err, uvcerr.HostDisconnect) {
		t.Fatalf("pumpCaptureRead error = %v, want HostDisconnect", err)
	}
	if gadget.enqueueCount != 0 {
		t.Fatalf("gadget enqueue count = %d, want 0 (the injected failure must not count)", gadget.enqueueCount)
	}

	// The Run loop translates this into a shutdown request; simulate that
	// directly and confirm STREAMOFF tears everything down cleanly.
	dev.RequestShutdown()
	if err := loop.teardownStreaming(); err != nil {
		t.Fatalf("teardownStreaming: %v", err)
	}
	if gadget.streamOffCalls != 1 || capture.streamOffCalls != 1 {
		t.Fatalf("expected one StreamOff call per endpoint, got gadget=%d capture=%d", gadget.streamOffCalls, capture.streamOffCalls)
	}
	// teardownStreaming resets pools in place rather than nilling them; both
	// must report zero outstanding buffers afterward.
	if loop.gadgetPool.Outstanding() != 0 {
		t.Fatalf("gadget pool not drained after teardown")
	}
	if loop.capturePool.Outstanding() != 0 {
		t.Fatalf("capture pool not drained after teardown")
	}
}

// --- S6: buffer accounting holds under a sustained capture->gadget pump. ---

func TestBufferAccountingUnderSustainedPump(t *testing.T) {
	const nbufs = 4
	const iterations = 100

	dev := newFakeDevice(false, true)
	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	capture := newFakeEndpoint(v4l2uapi.BufTypeVideoCapture, v4l2uapi.MemTypeUserPtr, 4096)
	loop := New(dev, Config{NBufs: nbufs, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, capture)

	if err := loop.startStreaming(); err != nil {
		t.Fatalf("startStreaming: %v", err)
	}

	checkP1 := func(pool *bufferpool.Pool, label string) {
		t.Helper()
		out := pool.Outstanding()
		if out < 0 || out > int64(pool.Size()) {
			t.Fatalf("%s pool P1 violated: outstanding=%d size=%d", label, out, pool.Size())
		}
	}

	for i := 0; i < iterations; i++ {
		index := uint32(i % nbufs)
		capture.pushReady(index, 1000)

		if err := loop.pumpCaptureRead(); err != nil {
			t.Fatalf("pumpCaptureRead iteration %d: %v", i, err)
		}
		checkP1(loop.capturePool, "capture")
		checkP1(loop.gadgetPool, "gadget")

		gadget.pushReady(index, 1000)
		if err := loop.pumpGadgetWrite(); err != nil {
			t.Fatalf("pumpGadgetWrite iteration %d: %v", i, err)
		}
		checkP1(loop.capturePool, "capture")
		checkP1(loop.gadgetPool, "gadget")
	}

	capStats := loop.capturePool.Stats()
	gadStats := loop.gadgetPool.Stats()

	// primeCapture() enqueued nbufs buffers up front; each of the 100 loop
	// iterations re-enqueues exactly one more on the capture side.
	if want := int64(nbufs + iterations); capStats.Enqueued != want {
		t.Fatalf("capture enqueued = %d, want %d", capStats.Enqueued, want)
	}
	if capStats.Dequeued != iterations {
		t.Fatalf("capture dequeued = %d, want %d", capStats.Dequeued, iterations)
	}
	if gadStats.Enqueued != iterations {
		t.Fatalf("gadget enqueued = %d, want %d", gadStats.Enqueued, iterations)
	}
	if gadStats.Dequeued != iterations {
		t.Fatalf("gadget dequeued = %d, want %d", gadStats.Dequeued, iterations)
	}
}

// --- ownership ordering: a forwarded capture buffer must not be re-enqueued
// onto the capture device until the gadget has dequeued it back, since mode
// complementarity makes the two endpoints' same-index buffers alias one
// backing allocation. ---

func TestBridgedForwardDefersCaptureReenqueueUntilGadgetDequeue(t *testing.T) {
	const nbufs = 4

	dev := newFakeDevice(false, true)
	gadget := newFakeEndpoint(v4l2uapi.BufTypeVideoOutput, v4l2uapi.MemTypeMMAP, 4096)
	capture := newFakeEndpoint(v4l2uapi.BufTypeVideoCapture, v4l2uapi.MemTypeUserPtr, 4096)
	loop := New(dev, Config{NBufs: nbufs, GadgetMem: v4l2uapi.MemTypeMMAP, CaptureMem: v4l2uapi.MemTypeUserPtr}, gadget, capture)

	if err := loop.startStreaming(); err != nil {
		t.Fatalf("startStreaming: %v", err)
	}

	// Mode complementarity: index 0's capture (user-pointer) buffer must
	// alias the same backing array as the gadget's (mapped) buffer 0.
	capBuf, _ := loop.capturePool.Buffer(0)
	gadBuf, _ := loop.gadgetPool.Buffer(0)
	if len(capBuf.Address) == 0 || len(gadBuf.Address) == 0 {
		t.Fatalf("expected non-empty aliased buffers, got capture=%d gadget=%d", len(capBuf.Address), len(gadBuf.Address))
	}
	gadBuf.Address[0] = 0xAB
	if capBuf.Address[0] != 0xAB {
		t.Fatalf("capture buffer 0 does not alias gadget buffer 0's backing memory")
	}

	preEnqueued := loop.capturePool.Stats().Enqueued

	capture.pushReady(0, 500)
	if err := loop.pumpCaptureRead(); err != nil {
		t.Fatalf("pumpCaptureRead: %v", err)
	}

	// The forward succeeded (gadget.enqueueCount == 1), but index 0's
	// capture-side buffer must still be outstanding (kernel/host owned)
	// rather than re-enqueued, since the gadget hasn't dequeued it yet.
	if gadget.enqueueCount != 1 {
		t.Fatalf("gadget enqueue count = %d, want 1 (forward did not happen)", gadget.enqueueCount)
	}
	if got := loop.capturePool.Stats().Enqueued; got != preEnqueued {
		t.Fatalf("capture pool enqueued = %d, want unchanged at %d: re-enqueued before gadget dequeue", got, preEnqueued)
	}
	if loop.capturePool.Outstanding() != int64(nbufs)-1 {
		t.Fatalf("capture pool outstanding = %d, want %d (one buffer handed to the gadget)", loop.capturePool.Outstanding(), nbufs-1)
	}

	// Now the host consumes buffer 0 and the gadget dequeues it back.
	gadget.pushReady(0, 500)
	if err := loop.pumpGadgetWrite(); err != nil {
		t.Fatalf("pumpGadgetWrite: %v", err)
	}

	if got, want := loop.capturePool.Stats().Enqueued, preEnqueued+1; got != want {
		t.Fatalf("capture pool enqueued = %d, want %d: capture re-enqueue did not follow gadget dequeue", got, want)
	}
	if loop.capturePool.Outstanding() != int64(nbufs) {
		t.Fatalf("capture pool outstanding = %d, want %d (buffer 0 back with the driver)", loop.capturePool.Outstanding(), nbufs)
	}
}
