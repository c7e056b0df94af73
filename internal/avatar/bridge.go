package avatar

import (
	"context"
	"log"
	"sync"
)

// SpeakFunc relays an utterance to the widget through the shell connection.
type SpeakFunc func(text string) error

// Bridge is the Channel implementation backed by the browser shell. Inbound
// widget messages carry the origin the shell observed on the window message
// event; anything not matching the configured provider origin is discarded
// unconditionally.
type Bridge struct {
	origin string
	speak  SpeakFunc

	mu      sync.Mutex
	state   State
	present bool // shell reports the widget element is mounted
	ready   bool // widget announced agent:ready

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewBridge(providerOrigin string, speak SpeakFunc) *Bridge {
	return &Bridge{
		origin: providerOrigin,
		speak:  speak,
		state:  StateConnecting,
		subs:   make(map[int]func(Event)),
	}
}

// IsAvailable probes the live connection state.
func (b *Bridge) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.present && b.ready
}

// Speak forwards the text when the capability is present; absence is a
// logged no-op, never an error.
func (b *Bridge) Speak(_ context.Context, text string) error {
	if !b.IsAvailable() {
		log.Printf("avatar: speak skipped, widget not available")
		return nil
	}
	if err := b.speak(text); err != nil {
		log.Printf("avatar: speak relay failed: %v", err)
		return err
	}
	return nil
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Subscribe(fn func(Event)) func() {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subMu.Unlock()
	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

// SetPresence records whether the shell currently has the widget mounted.
func (b *Bridge) SetPresence(present bool) {
	b.mu.Lock()
	b.present = present
	if !present {
		b.ready = false
		b.state = StateConnecting
	}
	b.mu.Unlock()
}

// Deliver processes one inbound widget message. It returns false when the
// message was discarded because the origin did not match.
func (b *Bridge) Deliver(origin string, evtType EventType, detail string) bool {
	if origin != b.origin {
		log.Printf("avatar: discarding message from unexpected origin %q", origin)
		return false
	}

	b.mu.Lock()
	switch evtType {
	case EventReady:
		b.ready = true
		b.present = true
		b.state = StateIdle
	case EventSpeaking:
		b.state = StateSpeaking
	case EventStopped:
		b.state = StateIdle
	case EventError:
		b.state = StateError
	default:
		b.mu.Unlock()
		log.Printf("avatar: ignoring unknown event type %q", evtType)
		return false
	}
	b.mu.Unlock()

	b.emit(Event{Type: evtType, Detail: detail})
	return true
}

func (b *Bridge) emit(evt Event) {
	b.subMu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.subMu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}
