// Package uvcerr defines this agent's error taxonomy: sentinel errors built
// with the standard errors/fmt wrapping idiom, the same way the teacher's
// v4l2 package layers ErrorSystem/ErrorBadArgument/etc. over raw errno
// values. Nothing here reaches for github.com/pkg/errors: a single-process
// CLI with no cross-package stack-trace requirement has no use for it that
// fmt.Errorf's %w wrapping doesn't already cover.
package uvcerr

import "errors"

var (
	// Transient conditions resolve themselves on the next loop iteration:
	// would-block on a non-blocking ioctl-equivalent call, or EINTR on a
	// readiness wait.
	Transient = errors.New("transient condition, retry next iteration")

	// HostDisconnect is observed as a DISCONNECT event, an ENODEV-equivalent
	// on gadget enqueue/dequeue, or the kernel error flag on a dequeued
	// buffer. It sets the shutdown-requested flag and drains naturally; it
	// is never propagated as a process-fatal error.
	HostDisconnect = errors.New("host disconnected")

	// ProtocolViolation is an unsupported control selector or request code.
	// It is answered with a STALL response and an error-code register
	// update; it never terminates the process.
	ProtocolViolation = errors.New("protocol violation")

	// ConfigurationError is a bad CLI argument, a device that cannot be
	// opened, or an unsupported format. Logged and causes exit code 1; only
	// ever surfaces at startup.
	ConfigurationError = errors.New("configuration error")

	// Fatal is an ioctl-equivalent failure on the capture side, or a
	// readiness-wait failure other than EINTR. It breaks the event loop.
	Fatal = errors.New("fatal error")
)

// Is reports whether err is (or wraps, via %w) target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
