package call

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionEnded is returned by Start on a session that has already
	// been ended. A new Session must be constructed for a new attempt.
	ErrSessionEnded = errors.New("call session already ended")

	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("call session already started")

	// ErrLinkClosed is returned by Send on a closed signaling link.
	ErrLinkClosed = errors.New("signaling link closed")
)

// ErrorKind classifies call failures for the error event stream.
type ErrorKind int

const (
	// ErrorPermissionDenied — user declined camera/mic access. Terminal
	// for the attempt, never retried automatically.
	ErrorPermissionDenied ErrorKind = iota
	// ErrorDeviceNotFound — no camera or microphone hardware. Terminal.
	ErrorDeviceNotFound
	// ErrorDevice — any other device acquisition failure. Terminal.
	ErrorDevice
	// ErrorSignaling — transport-level trouble on the signaling link.
	// Non-fatal; the call may survive on the established peer connection.
	ErrorSignaling
	// ErrorTimeout — connection watchdog fired before reaching Connected.
	// Recoverable via ICE restart.
	ErrorTimeout
	// ErrorIceFailed — ICE layer reported failure. Recoverable via ICE
	// restart; retries are unbounded.
	ErrorIceFailed
	// ErrorPeerLeft — the remote participant left. Not a failure, but
	// surfaced on the same stream so telemetry sees it.
	ErrorPeerLeft
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "permission-denied"
	case ErrorDeviceNotFound:
		return "device-not-found"
	case ErrorDevice:
		return "device-error"
	case ErrorSignaling:
		return "signaling-error"
	case ErrorTimeout:
		return "negotiation-timeout"
	case ErrorIceFailed:
		return "ice-failure"
	case ErrorPeerLeft:
		return "peer-departed"
	default:
		return "unknown"
	}
}

// Recoverable reports whether the engine keeps retrying after this error.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrorSignaling, ErrorTimeout, ErrorIceFailed:
		return true
	}
	return false
}

// CallError pairs a classified kind with the underlying cause.
type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Message returns the user-facing text for this error. Transient negotiation
// errors map to a reassuring message since they auto-recover.
func (e *CallError) Message() string {
	switch e.Kind {
	case ErrorPermissionDenied:
		return "camera/microphone permission denied"
	case ErrorDeviceNotFound:
		return "no camera or microphone detected"
	case ErrorDevice:
		return "camera/microphone unavailable"
	case ErrorTimeout, ErrorIceFailed, ErrorSignaling:
		return "reconnecting…"
	case ErrorPeerLeft:
		return "the other participant left"
	default:
		return "call error"
	}
}

// classifyDeviceErr maps a raw capture failure onto the device taxonomy.
// Driver errors carry no structured codes, so classification is by message.
func classifyDeviceErr(err error) *CallError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") ||
		strings.Contains(msg, "not allowed"):
		return &CallError{Kind: ErrorPermissionDenied, Err: err}
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "no media devices") || strings.Contains(msg, "failed to find"):
		return &CallError{Kind: ErrorDeviceNotFound, Err: err}
	default:
		return &CallError{Kind: ErrorDevice, Err: err}
	}
}
