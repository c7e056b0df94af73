package speech

import "sync"

// Mock is a scriptable capture adapter for orchestrator tests.
type Mock struct {
	mu       sync.Mutex
	state    State
	starts   int
	stops    int
	StartErr error

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewMock() *Mock {
	return &Mock{state: StateIdle, subs: make(map[int]func(Event))}
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	if m.state == StateCapturing {
		return ErrAlreadyCapturing
	}
	m.state = StateCapturing
	m.starts++
	return nil
}

func (m *Mock) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
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

// EmitResult scripts a full successful capture cycle.
func (m *Mock) EmitResult(text string) {
	m.emit(Event{Type: EventResult, Text: text})
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.emit(Event{Type: EventEnd})
}

// EmitError scripts a failed capture cycle.
func (m *Mock) EmitError(kind ErrorKind) {
	m.mu.Lock()
	m.state = StateErroring
	m.mu.Unlock()
	m.emit(Event{Type: EventError, Kind: kind})
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.emit(Event{Type: EventEnd})
}

func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *Mock) emit(evt Event) {
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
