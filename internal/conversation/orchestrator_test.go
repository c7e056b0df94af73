package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugomdz/consultavirtual/internal/avatar"
	"github.com/hugomdz/consultavirtual/internal/backend"
	"github.com/hugomdz/consultavirtual/internal/config"
	"github.com/hugomdz/consultavirtual/internal/report"
	"github.com/hugomdz/consultavirtual/internal/session"
	"github.com/hugomdz/consultavirtual/internal/speech"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []any
}

func (s *sinkRecorder) fn(evt any) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *sinkRecorder) all() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.events))
	copy(out, s.events)
	return out
}

func (s *sinkRecorder) notifications() []Notification {
	var out []Notification
	for _, evt := range s.all() {
		if n, ok := evt.(Notification); ok {
			out = append(out, n)
		}
	}
	return out
}

func (s *sinkRecorder) waitFor(t *testing.T, pred func(any) bool) any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, evt := range s.all() {
			if pred(evt) {
				return evt
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event; got %+v", s.all())
	return nil
}

type fixture struct {
	sessions  *session.Manager
	sessionID string
	mock      *backend.Mock
	store     *report.Store
	capture   *speech.Mock
	avatarCh  *avatar.Mock
	sink      *sinkRecorder
	orch      *Orchestrator
}

func newFixture(t *testing.T, mode config.SpeechResultMode) *fixture {
	t.Helper()
	f := &fixture{
		sessions: session.NewManager(time.Minute),
		mock:     backend.NewMock(),
		store:    report.NewStore(),
		capture:  speech.NewMock(),
		avatarCh: avatar.NewMock(),
		sink:     &sinkRecorder{},
	}
	f.sessionID = f.sessions.Create().ID
	f.orch = New(f.sessionID, f.sessions, f.mock, f.store, f.capture, f.avatarCh, nil, mode, f.sink.fn)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) turns(t *testing.T) []session.Turn {
	t.Helper()
	turns, err := f.sessions.Transcript(f.sessionID)
	if err != nil {
		t.Fatalf("Transcript error = %v", err)
	}
	return turns
}

func TestSubmitSuccessAppendsBothTurns(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.avatarCh.SetAvailable(true)
	f.mock.SubmitFunc = func(_ context.Context, _, text string) (backend.QueryResponse, error) {
		return backend.QueryResponse{
			Respuesta: "Descanse y hidrátese",
			Reporte: &report.Report{
				Timestamp: "2026-08-27T10:30:00",
				Consulta:  text,
				Respuesta: "Descanse y hidrátese",
				Analisis:  &report.Analysis{Urgencia: report.UrgenciaBajo},
			},
		}, nil
	}

	if err := f.orch.Submit(context.Background(), "tengo dolor de cabeza"); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	turns := f.turns(t)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[0].Content != "tengo dolor de cabeza" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Role != session.RoleAssistant || turns[1].Content != "Descanse y hidrátese" {
		t.Fatalf("assistant turn = %+v", turns[1])
	}

	current, ok := f.store.Current()
	if !ok {
		t.Fatalf("current report missing after success")
	}
	if current.Analisis == nil || current.Analisis.Urgencia != report.UrgenciaBajo {
		t.Fatalf("current report analysis = %+v, want urgencia Bajo", current.Analisis)
	}

	spoken := f.avatarCh.Spoken()
	if len(spoken) != 1 || spoken[0] != "Descanse y hidrátese" {
		t.Fatalf("avatar spoken = %v, want the reply", spoken)
	}
	if f.orch.TurnState() != StateIdle {
		t.Fatalf("TurnState = %q, want idle", f.orch.TurnState())
	}
}

func TestSubmitEmptyInputNoTurnsNoCalls(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	for _, input := range []string{"", "   ", "\n\t "} {
		if err := f.orch.Submit(context.Background(), input); !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("Submit(%q) error = %v, want ErrEmptyQuery", input, err)
		}
	}

	if got := f.turns(t); len(got) != 0 {
		t.Fatalf("turns = %+v, want none", got)
	}
	if got := f.mock.Submitted(); len(got) != 0 {
		t.Fatalf("backend calls = %v, want none", got)
	}

	notes := f.sink.notifications()
	if len(notes) != 3 || notes[0].Level != LevelWarning || notes[0].Text != "Por favor, escribe tu consulta médica" {
		t.Fatalf("notifications = %+v, want warnings", notes)
	}
	if f.orch.TurnState() != StateIdle {
		t.Fatalf("TurnState = %q, want idle after rejection", f.orch.TurnState())
	}
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.mock.SubmitFunc = func(context.Context, string, string) (backend.QueryResponse, error) {
		close(entered)
		<-release
		return backend.QueryResponse{Respuesta: "ok"}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.orch.Submit(context.Background(), "primera") }()
	<-entered

	if err := f.orch.Submit(context.Background(), "segunda"); !errors.Is(err, ErrBusy) {
		t.Fatalf("re-entrant Submit error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit error = %v", err)
	}

	turns := f.turns(t)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2 (rejected submit adds none)", len(turns))
	}
	if got := f.mock.Submitted(); len(got) != 1 || got[0] != "primera" {
		t.Fatalf("backend calls = %v, want only the first", got)
	}
}

func TestSubmitBackendFailureAppendsApology(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.store.SetCurrent(report.Report{Consulta: "previa"})
	f.mock.SubmitFunc = func(context.Context, string, string) (backend.QueryResponse, error) {
		return backend.QueryResponse{}, &backend.NetworkError{Op: "submit", Status: 503, Message: "unavailable"}
	}

	err := f.orch.Submit(context.Background(), "tengo fiebre")
	var netErr *backend.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Submit error = %v, want *NetworkError", err)
	}

	turns := f.turns(t)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want user + apology", len(turns))
	}
	if turns[1].Content != ApologyReply {
		t.Fatalf("apology turn = %q, want fixed text", turns[1].Content)
	}

	current, ok := f.store.Current()
	if !ok || current.Consulta != "previa" {
		t.Fatalf("current report = %+v, want untouched previous", current)
	}

	var sawError bool
	for _, n := range f.sink.notifications() {
		if n.Level == LevelError && n.Text == "Error al procesar la consulta. Verifica tu conexión." {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("missing error notification: %+v", f.sink.notifications())
	}
	if f.orch.TurnState() != StateIdle {
		t.Fatalf("TurnState = %q, want idle after failure", f.orch.TurnState())
	}
}

func TestSubmitSucceedsWithAvatarAbsentOrFailing(t *testing.T) {
	cases := map[string]func(*fixture){
		"absent":  func(f *fixture) { f.avatarCh.SetAvailable(false) },
		"failing": func(f *fixture) { f.avatarCh.SetAvailable(true); f.avatarCh.SpeakErr = errors.New("widget gone") },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, config.SpeechResultReplace)
			setup(f)

			if err := f.orch.Submit(context.Background(), "hola"); err != nil {
				t.Fatalf("Submit error = %v, avatar must never fail the turn", err)
			}
			if len(f.turns(t)) != 2 {
				t.Fatalf("turn incomplete with avatar %s", name)
			}
			f.sink.waitFor(t, func(evt any) bool {
				_, ok := evt.(HistoryUpdated)
				return ok
			})
		})
	}
}

func TestHistoryRefreshLastIssuedWins(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	h1 := []report.HistoryEntry{{Consulta: "vieja"}}
	h2 := []report.HistoryEntry{{Consulta: "nueva"}, {Consulta: "nueva2"}}

	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var call int
	var callMu sync.Mutex
	f.mock.HistoryFunc = func(context.Context) ([]report.HistoryEntry, error) {
		callMu.Lock()
		call++
		n := call
		callMu.Unlock()
		if n == 1 {
			close(firstEntered)
			<-releaseFirst
			return h1, nil
		}
		return h2, nil
	}

	f.orch.RefreshHistory()
	<-firstEntered
	f.orch.RefreshHistory()

	f.sink.waitFor(t, func(evt any) bool {
		h, ok := evt.(HistoryUpdated)
		return ok && len(h.Entries) == 2
	})

	close(releaseFirst)
	time.Sleep(50 * time.Millisecond)

	got := f.store.History()
	if len(got) != 2 || got[0].Consulta != "nueva" {
		t.Fatalf("history = %+v, want the later-issued refresh result", got)
	}

	for _, evt := range f.sink.all() {
		if h, ok := evt.(HistoryUpdated); ok && len(h.Entries) == 1 {
			t.Fatalf("stale refresh leaked to the sink: %+v", h)
		}
	}
}

func TestHistoryRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.store.ReplaceHistory([]report.HistoryEntry{{Consulta: "previa"}})
	f.mock.HistoryFunc = func(context.Context) ([]report.HistoryEntry, error) {
		return nil, &backend.NetworkError{Op: "history", Status: 500, Message: "boom"}
	}

	f.orch.RefreshHistory()
	time.Sleep(50 * time.Millisecond)

	got := f.store.History()
	if len(got) != 1 || got[0].Consulta != "previa" {
		t.Fatalf("history = %+v, want untouched previous snapshot", got)
	}
	for _, n := range f.sink.notifications() {
		if n.Level == LevelError {
			t.Fatalf("history failure must not surface an error notification, got %+v", n)
		}
	}
}

func TestSpeechResultReplaceMode(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.orch.SetPendingInput("ya escrito")

	f.orch.StartCapture()
	f.capture.EmitResult("tengo tos")

	if got := f.orch.PendingInput(); got != "tengo tos" {
		t.Fatalf("PendingInput = %q, want replacement", got)
	}
	evt := f.sink.waitFor(t, func(evt any) bool {
		_, ok := evt.(InputUpdated)
		return ok
	})
	if evt.(InputUpdated).Text != "tengo tos" {
		t.Fatalf("InputUpdated = %+v, want replaced text", evt)
	}
}

func TestSpeechResultAppendMode(t *testing.T) {
	f := newFixture(t, config.SpeechResultAppend)
	f.orch.SetPendingInput("me duele la cabeza")

	f.orch.StartCapture()
	f.capture.EmitResult("desde ayer")

	if got := f.orch.PendingInput(); got != "me duele la cabeza desde ayer" {
		t.Fatalf("PendingInput = %q, want single-space join", got)
	}
}

func TestSpeechErrorNotifiesAndResets(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	f.orch.StartCapture()
	f.capture.EmitError(speech.ErrorPermissionDenied)

	var sawNotice bool
	for _, n := range f.sink.notifications() {
		if n.Level == LevelError && n.Text == "Error en reconocimiento de voz: permission-denied" {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Fatalf("missing speech error notification: %+v", f.sink.notifications())
	}

	var states []speech.State
	for _, evt := range f.sink.all() {
		if r, ok := evt.(RecordingStateChanged); ok {
			states = append(states, r.State)
		}
	}
	if len(states) == 0 || states[len(states)-1] != speech.StateIdle {
		t.Fatalf("recording states = %v, want final idle", states)
	}
}

func TestStartCaptureWhileCapturingWarns(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	f.orch.StartCapture()
	f.orch.StartCapture()

	if f.capture.Starts() != 1 {
		t.Fatalf("capture starts = %d, want 1", f.capture.Starts())
	}
	var sawWarning bool
	for _, n := range f.sink.notifications() {
		if n.Level == LevelWarning && n.Text == "La grabación de voz ya está en curso" {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Fatalf("missing busy warning: %+v", f.sink.notifications())
	}
}

func TestAvatarEventsMirrorStatusOnly(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)

	f.avatarCh.Emit(avatar.Event{Type: avatar.EventReady})
	f.avatarCh.Emit(avatar.Event{Type: avatar.EventSpeaking})
	f.avatarCh.Emit(avatar.Event{Type: avatar.EventError, Detail: "crashed"})

	var states []avatar.State
	for _, evt := range f.sink.all() {
		if a, ok := evt.(AvatarStatusChanged); ok {
			states = append(states, a.State)
		}
	}
	want := []avatar.State{avatar.StateIdle, avatar.StateSpeaking, avatar.StateError}
	if len(states) != len(want) {
		t.Fatalf("avatar states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("avatar states = %v, want %v", states, want)
		}
	}

	// An avatar error never blocks a subsequent turn.
	if err := f.orch.Submit(context.Background(), "sigo aquí"); err != nil {
		t.Fatalf("Submit after avatar error = %v", err)
	}
}

func TestClearReportKeepsHistory(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.store.SetCurrent(report.Report{Consulta: "c"})
	f.store.ReplaceHistory([]report.HistoryEntry{{Consulta: "h"}})

	f.orch.ClearReport()

	if _, ok := f.store.Current(); ok {
		t.Fatalf("current report should be nil after ClearReport")
	}
	if len(f.store.History()) != 1 {
		t.Fatalf("history must survive ClearReport")
	}
	f.sink.waitFor(t, func(evt any) bool {
		_, ok := evt.(ReportCleared)
		return ok
	})
}

func TestEndToEndHeadacheScenario(t *testing.T) {
	f := newFixture(t, config.SpeechResultReplace)
	f.avatarCh.SetAvailable(true)

	f.mock.SubmitFunc = func(_ context.Context, sessionID, text string) (backend.QueryResponse, error) {
		if sessionID != f.sessionID {
			t.Fatalf("sessionID = %q, want %q", sessionID, f.sessionID)
		}
		return backend.QueryResponse{
			Respuesta: "Descanse y hidrátese",
			Reporte: &report.Report{
				Timestamp: "2026-08-27T10:30:00",
				Consulta:  text,
				Respuesta: "Descanse y hidrátese",
				Analisis:  &report.Analysis{Urgencia: report.UrgenciaBajo},
			},
		}, nil
	}
	f.mock.HistoryFunc = func(context.Context) ([]report.HistoryEntry, error) {
		return []report.HistoryEntry{{Timestamp: "2026-08-27T10:30:00", Consulta: "tengo dolor de cabeza"}}, nil
	}

	if err := f.orch.Submit(context.Background(), "tengo dolor de cabeza"); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	turns := f.turns(t)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}

	current, ok := f.store.Current()
	if !ok || current.Analisis == nil || current.Analisis.Urgencia != "Bajo" {
		t.Fatalf("current report = %+v, want urgencia Bajo", current)
	}

	if spoken := f.avatarCh.Spoken(); len(spoken) != 1 || spoken[0] != "Descanse y hidrátese" {
		t.Fatalf("avatar spoken = %v", spoken)
	}

	f.sink.waitFor(t, func(evt any) bool {
		h, ok := evt.(HistoryUpdated)
		return ok && len(h.Entries) == 1 && h.Entries[0].Consulta == "tengo dolor de cabeza"
	})
}
