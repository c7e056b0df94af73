package speech

import (
	"log"
	"sync"
)

// ControlFunc delivers a start/stop control to the browser shell, which owns
// the actual SpeechRecognition object.
type ControlFunc func(action, lang string)

// Bridge drives the shell-side recognizer over the websocket and replays its
// callbacks as Adapter events. The bridge enforces the one-result-then-end
// cycle even when the shell misbehaves.
type Bridge struct {
	mu      sync.Mutex
	state   State
	fired   bool // result or error already delivered for this Start
	lang    string
	control ControlFunc

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewBridge(lang string, control ControlFunc) *Bridge {
	return &Bridge{
		state:   StateIdle,
		lang:    lang,
		control: control,
		subs:    make(map[int]func(Event)),
	}
}

func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.state == StateCapturing {
		b.mu.Unlock()
		return ErrAlreadyCapturing
	}
	b.state = StateCapturing
	b.fired = false
	b.mu.Unlock()

	b.control("start", b.lang)
	return nil
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	capturing := b.state == StateCapturing
	b.mu.Unlock()
	if capturing {
		b.control("stop", b.lang)
	}
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

// DeliverResult replays the recognizer's onresult callback.
func (b *Bridge) DeliverResult(text string) {
	b.mu.Lock()
	if b.state != StateCapturing || b.fired {
		b.mu.Unlock()
		log.Printf("speech: dropping stray result")
		return
	}
	b.fired = true
	b.mu.Unlock()

	b.emit(Event{Type: EventResult, Text: text})
}

// DeliverError replays the recognizer's onerror callback.
func (b *Bridge) DeliverError(rawKind string) {
	b.mu.Lock()
	if b.state != StateCapturing || b.fired {
		b.mu.Unlock()
		log.Printf("speech: dropping stray error %q", rawKind)
		return
	}
	b.fired = true
	b.state = StateErroring
	b.mu.Unlock()

	b.emit(Event{Type: EventError, Kind: NormalizeErrorKind(rawKind)})
}

// DeliverEnd replays the recognizer's onend callback and closes the cycle.
func (b *Bridge) DeliverEnd() {
	b.mu.Lock()
	if b.state == StateIdle {
		b.mu.Unlock()
		return
	}
	b.state = StateIdle
	b.fired = false
	b.mu.Unlock()

	b.emit(Event{Type: EventEnd})
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
