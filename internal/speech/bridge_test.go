package speech

import (
	"errors"
	"testing"
)

type controlRecorder struct {
	actions []string
	langs   []string
}

func (c *controlRecorder) fn(action, lang string) {
	c.actions = append(c.actions, action)
	c.langs = append(c.langs, lang)
}

func TestBridgeStartStopCycle(t *testing.T) {
	rec := &controlRecorder{}
	b := NewBridge("es-ES", rec.fn)

	var events []Event
	unsub := b.Subscribe(func(e Event) { events = append(events, e) })
	defer unsub()

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if b.State() != StateCapturing {
		t.Fatalf("State = %q, want %q", b.State(), StateCapturing)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "start" || rec.langs[0] != "es-ES" {
		t.Fatalf("control calls = %v %v, want start es-ES", rec.actions, rec.langs)
	}

	b.DeliverResult("tengo fiebre")
	b.DeliverEnd()

	if b.State() != StateIdle {
		t.Fatalf("State after end = %q, want %q", b.State(), StateIdle)
	}
	if len(events) != 2 || events[0].Type != EventResult || events[0].Text != "tengo fiebre" || events[1].Type != EventEnd {
		t.Fatalf("events = %+v, want result then end", events)
	}
}

func TestBridgeRejectsConcurrentStart(t *testing.T) {
	b := NewBridge("es-ES", func(string, string) {})
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Start(); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyCapturing", err)
	}
}

func TestBridgeExactlyOneResultPerStart(t *testing.T) {
	b := NewBridge("es-ES", func(string, string) {})
	var events []Event
	b.Subscribe(func(e Event) { events = append(events, e) })

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.DeliverResult("uno")
	b.DeliverResult("dos")
	b.DeliverError("no-speech")
	b.DeliverEnd()

	if len(events) != 2 {
		t.Fatalf("events = %+v, want exactly result + end", events)
	}
	if events[0].Text != "uno" {
		t.Fatalf("result text = %q, want first delivery only", events[0].Text)
	}
}

func TestBridgeErrorCycle(t *testing.T) {
	b := NewBridge("es-ES", func(string, string) {})
	var events []Event
	b.Subscribe(func(e Event) { events = append(events, e) })

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.DeliverError("not-allowed")
	if b.State() != StateErroring {
		t.Fatalf("State = %q, want %q before end", b.State(), StateErroring)
	}
	b.DeliverEnd()

	if len(events) != 2 || events[0].Type != EventError || events[0].Kind != ErrorPermissionDenied {
		t.Fatalf("events = %+v, want permission-denied error then end", events)
	}
	if b.State() != StateIdle {
		t.Fatalf("State = %q, want idle after end", b.State())
	}
}

func TestBridgeIgnoresStrayEventsWhileIdle(t *testing.T) {
	b := NewBridge("es-ES", func(string, string) {})
	var events []Event
	b.Subscribe(func(e Event) { events = append(events, e) })

	b.DeliverResult("fantasma")
	b.DeliverEnd()

	if len(events) != 0 {
		t.Fatalf("events = %+v, want none while idle", events)
	}
}

func TestNormalizeErrorKind(t *testing.T) {
	cases := map[string]ErrorKind{
		"no-speech":           ErrorNoSpeech,
		"not-allowed":         ErrorPermissionDenied,
		"permission-denied":   ErrorPermissionDenied,
		"service-not-allowed": ErrorPermissionDenied,
		"network":             ErrorOther,
		"aborted":             ErrorOther,
	}
	for raw, want := range cases {
		if got := NormalizeErrorKind(raw); got != want {
			t.Fatalf("NormalizeErrorKind(%q) = %q, want %q", raw, got, want)
		}
	}
}
