package avatar

import (
	"context"
	"sync"
)

// Mock is a scriptable Channel for orchestrator tests.
type Mock struct {
	mu        sync.Mutex
	available bool
	state     State
	spoken    []string
	SpeakErr  error

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewMock() *Mock {
	return &Mock{state: StateConnecting, subs: make(map[int]func(Event))}
}

func (m *Mock) SetAvailable(v bool) {
	m.mu.Lock()
	m.available = v
	if v {
		m.state = StateIdle
	}
	m.mu.Unlock()
}

func (m *Mock) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *Mock) Speak(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return nil
	}
	if m.SpeakErr != nil {
		return m.SpeakErr
	}
	m.spoken = append(m.spoken, text)
	return nil
}

func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Emit scripts an inbound widget event.
func (m *Mock) Emit(evt Event) {
	m.mu.Lock()
	switch evt.Type {
	case EventReady:
		m.available = true
		m.state = StateIdle
	case EventSpeaking:
		m.state = StateSpeaking
	case EventStopped:
		m.state = StateIdle
	case EventError:
		m.state = StateError
	}
	m.mu.Unlock()

	m.subMu.Lock()
	handlers := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.subMu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// Spoken returns every utterance relayed so far.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}
