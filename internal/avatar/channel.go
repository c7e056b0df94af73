package avatar

import "context"

// State mirrors the embedded widget lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateIdle       State = "online-idle"
	StateSpeaking   State = "online-speaking"
	StateError      State = "offline-error"
)

// EventType values match the widget's postMessage contract.
type EventType string

const (
	EventReady    EventType = "agent:ready"
	EventSpeaking EventType = "agent:speaking"
	EventStopped  EventType = "agent:stopped"
	EventError    EventType = "agent:error"
)

// Event is one inbound widget lifecycle signal.
type Event struct {
	Type   EventType
	Detail string
}

// Channel models the optionally-present speaking surface. The widget may
// mount at any time after page load, so availability is probed per call,
// never cached at startup.
type Channel interface {
	IsAvailable() bool
	// Speak is best-effort. A returned error is informational; callers must
	// never let it fail or block the surrounding conversation turn.
	Speak(ctx context.Context, text string) error
	State() State
	Subscribe(fn func(Event)) (unsubscribe func())
}
