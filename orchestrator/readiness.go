package orchestrator

import (
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/go4vl-uvc/uvcgadget/internal/uvcerr"
)

// readySet reports, after a readiness wait, which conditions fired.
type readySet struct {
	gadgetExcept  bool
	gadgetWrite   bool
	captureRead   bool
}

// waitReady blocks until one of the watched conditions is ready or timeout
// elapses (a zero timeout waits indefinitely): one select(2) call across the
// gadget fd's except/write readiness and the capture fd's read readiness at
// once, the way the event loop's readiness-set is defined.
func waitReady(gadgetFd uintptr, captureFd int, hasCapture bool, timeout time.Duration) (readySet, error) {
	var rd, wr, ex sys.FdSet
	rd.Set(int(gadgetFd))
	wr.Set(int(gadgetFd))
	ex.Set(int(gadgetFd))

	nfds := int(gadgetFd)
	if hasCapture {
		rd.Set(captureFd)
		if captureFd > nfds {
			nfds = captureFd
		}
	}

	var tv *sys.Timeval
	if timeout > 0 {
		t := sys.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	for {
		n, err := sys.Select(nfds+1, &rd, &wr, &ex, tv)
		switch {
		case n < 0:
			if err == sys.EINTR {
				return readySet{}, uvcerr.Transient
			}
			return readySet{}, err
		case n == 0:
			return readySet{}, uvcerr.Fatal
		default:
			return readySet{
				gadgetExcept: ex.IsSet(int(gadgetFd)),
				gadgetWrite:  wr.IsSet(int(gadgetFd)),
				captureRead:  hasCapture && rd.IsSet(captureFd),
			}, nil
		}
	}
}
