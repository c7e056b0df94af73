package speech

import "errors"

// State is the capture lifecycle as mirrored by the UI.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateErroring  State = "erroring-out"
)

// ErrorKind classifies recognizer failures.
type ErrorKind string

const (
	ErrorNoSpeech         ErrorKind = "no-speech"
	ErrorPermissionDenied ErrorKind = "permission-denied"
	ErrorOther            ErrorKind = "other"
)

// NormalizeErrorKind folds the raw recognizer error codes reported by the
// browser into the recognized kinds.
func NormalizeErrorKind(raw string) ErrorKind {
	switch raw {
	case "no-speech":
		return ErrorNoSpeech
	case "permission-denied", "not-allowed", "service-not-allowed":
		return ErrorPermissionDenied
	default:
		return ErrorOther
	}
}

type EventType string

const (
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is one recognizer callback. Per Start, exactly one EventResult or
// EventError fires, followed unconditionally by EventEnd.
type Event struct {
	Type EventType
	Text string
	Kind ErrorKind
}

// ErrAlreadyCapturing is returned by Start while a capture is in progress;
// at most one concurrent capture per session.
var ErrAlreadyCapturing = errors.New("speech capture already in progress")

// Adapter wraps a speech-to-text capability behind a small start/stop
// contract with an explicit event subscription.
type Adapter interface {
	// Start begins a single non-continuous, non-interim capture.
	Start() error
	// Stop ends the capture early. No-op when idle.
	Stop()
	State() State
	// Subscribe registers a handler for capture events and returns a disposer.
	Subscribe(fn func(Event)) (unsubscribe func())
}
