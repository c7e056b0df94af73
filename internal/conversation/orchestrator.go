package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugomdz/consultavirtual/internal/avatar"
	"github.com/hugomdz/consultavirtual/internal/backend"
	"github.com/hugomdz/consultavirtual/internal/config"
	"github.com/hugomdz/consultavirtual/internal/observability"
	"github.com/hugomdz/consultavirtual/internal/report"
	"github.com/hugomdz/consultavirtual/internal/session"
	"github.com/hugomdz/consultavirtual/internal/speech"
)

// TurnState tracks where the in-flight turn is in its lifecycle.
type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateValidating       TurnState = "validating"
	StateSubmitting       TurnState = "submitting"
	StateAwaitingResponse TurnState = "awaiting_response"
	StateRenderingReply   TurnState = "rendering_reply"
	StateUpdatingReport   TurnState = "updating_report"
	StateNotifyingAvatar  TurnState = "notifying_avatar"
	StateFailed           TurnState = "failed"
)

// User-visible texts, matching the consulta UI copy.
const (
	ApologyReply          = "Lo siento, hubo un error al procesar tu consulta. Por favor, inténtalo de nuevo."
	emptyQueryWarning     = "Por favor, escribe tu consulta médica"
	networkErrorNotice    = "Error al procesar la consulta. Verifica tu conexión."
	captureBusyWarning    = "La grabación de voz ya está en curso"
	speechErrorPrefix     = "Error en reconocimiento de voz: "
	captureUnsupportedMsg = "Reconocimiento de voz no soportado en este navegador"
)

var (
	// ErrBusy rejects a submit while another one is in flight.
	ErrBusy = errors.New("a submission is already in flight")
	// ErrEmptyQuery rejects empty or whitespace-only input.
	ErrEmptyQuery = errors.New("empty query")
)

const historyRefreshTimeout = 15 * time.Second

// Orchestrator owns the session-level state machine. It sequences speech
// capture, backend calls, report updates and avatar notifications so that a
// fault in any one subsystem never corrupts the others. All mutable state is
// guarded by one mutex, the single-writer analog of the browser UI thread.
type Orchestrator struct {
	sessionID string
	sessions  *session.Manager
	backend   backend.Querier
	store     *report.Store
	capture   speech.Adapter
	avatarCh  avatar.Channel
	metrics   *observability.Metrics
	sink      Sink

	resultMode config.SpeechResultMode

	mu           sync.Mutex
	turnState    TurnState
	inFlight     bool
	pendingInput string

	refreshSeq     atomic.Int64
	appliedRefresh int64

	unsubs []func()
}

func New(
	sessionID string,
	sessions *session.Manager,
	querier backend.Querier,
	store *report.Store,
	capture speech.Adapter,
	avatarCh avatar.Channel,
	metrics *observability.Metrics,
	resultMode config.SpeechResultMode,
	sink Sink,
) *Orchestrator {
	if sink == nil {
		sink = func(any) {}
	}
	o := &Orchestrator{
		sessionID:  sessionID,
		sessions:   sessions,
		backend:    querier,
		store:      store,
		capture:    capture,
		avatarCh:   avatarCh,
		metrics:    metrics,
		resultMode: resultMode,
		sink:       sink,
		turnState:  StateIdle,
	}

	if capture != nil {
		o.unsubs = append(o.unsubs, capture.Subscribe(o.handleSpeechEvent))
	}
	if avatarCh != nil {
		o.unsubs = append(o.unsubs, avatarCh.Subscribe(o.handleAvatarEvent))
	}
	return o
}

// Close detaches the orchestrator from its event sources.
func (o *Orchestrator) Close() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
}

// TurnState returns the current state of the in-flight turn.
func (o *Orchestrator) TurnState() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnState
}

// PendingInput returns the unsent input buffer mirrored from the shell.
func (o *Orchestrator) PendingInput() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingInput
}

// SetPendingInput mirrors the shell's input box so speech results compose
// against what the user already typed.
func (o *Orchestrator) SetPendingInput(text string) {
	o.mu.Lock()
	o.pendingInput = text
	o.mu.Unlock()
}

// Submit drives one query through the whole turn lifecycle. It is the only
// operation that may suspend on the backend, and only one may be in flight
// per session.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		o.countTurn("rejected_busy")
		return ErrBusy
	}
	o.turnState = StateValidating
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		o.turnState = StateIdle
		o.mu.Unlock()
		o.sink(Notification{Level: LevelWarning, Text: emptyQueryWarning})
		o.countTurn("rejected_empty")
		return ErrEmptyQuery
	}
	o.inFlight = true
	o.pendingInput = ""
	o.turnState = StateSubmitting
	o.mu.Unlock()

	// Optimistic: the user's turn is visible before the backend answers.
	userTurn, err := o.sessions.AppendTurn(o.sessionID, session.RoleUser, trimmed)
	if err != nil {
		o.finishTurn(StateIdle)
		o.countTurn("failed")
		return err
	}
	o.sink(MessageAdded{Turn: userTurn})
	o.sink(InputUpdated{Text: ""})

	o.setTurnState(StateAwaitingResponse)
	start := time.Now()
	resp, err := o.backend.SubmitQuery(ctx, o.sessionID, trimmed)
	if o.metrics != nil {
		o.metrics.ObserveSubmitLatency(time.Since(start))
	}
	if err != nil {
		return o.failTurn(err)
	}

	o.setTurnState(StateRenderingReply)
	assistantTurn, err := o.sessions.AppendTurn(o.sessionID, session.RoleAssistant, resp.Respuesta)
	if err != nil {
		o.finishTurn(StateIdle)
		o.countTurn("failed")
		return err
	}
	o.sink(MessageAdded{Turn: assistantTurn})

	o.setTurnState(StateUpdatingReport)
	if resp.Reporte != nil {
		o.store.SetCurrent(*resp.Reporte)
		o.sink(ReportUpdated{Report: resp.Reporte.Clone()})
	}

	o.setTurnState(StateNotifyingAvatar)
	if o.avatarCh != nil {
		// Best-effort: a failed avatar call never reverts or blocks the turn.
		if err := o.avatarCh.Speak(ctx, resp.Respuesta); err != nil {
			log.Printf("conversation: avatar speak failed: %v", err)
			if o.metrics != nil {
				o.metrics.AvatarEvents.WithLabelValues("speak_failed").Inc()
			}
		}
	}

	o.finishTurn(StateIdle)
	o.countTurn("completed")
	o.RefreshHistory()
	return nil
}

func (o *Orchestrator) failTurn(cause error) error {
	o.setTurnState(StateFailed)

	// The transcript never shows an unanswered user turn.
	apologyTurn, appendErr := o.sessions.AppendTurn(o.sessionID, session.RoleAssistant, ApologyReply)
	if appendErr == nil {
		o.sink(MessageAdded{Turn: apologyTurn})
	}
	o.sink(Notification{Level: LevelError, Text: networkErrorNotice})

	var netErr *backend.NetworkError
	if errors.As(cause, &netErr) {
		o.sink(ErrorEvent{
			Code:      "backend_submit_failed",
			Source:    "backend",
			Retryable: netErr.Retryable(),
			Detail:    netErr.Error(),
		})
		if o.metrics != nil {
			o.metrics.BackendErrors.WithLabelValues("submit").Inc()
		}
	}

	o.finishTurn(StateIdle)
	o.countTurn("failed")
	return cause
}

// RefreshHistory issues an asynchronous history fetch. The most recently
// issued refresh wins: stale resolutions are discarded, never merged.
func (o *Orchestrator) RefreshHistory() {
	seq := o.refreshSeq.Add(1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyRefreshTimeout)
		defer cancel()

		entries, err := o.backend.FetchHistory(ctx)

		if err != nil {
			// Fails soft: the previous history display stays untouched.
			log.Printf("conversation: history refresh failed: %v", err)
			if o.metrics != nil {
				o.metrics.BackendErrors.WithLabelValues("history").Inc()
			}
			o.countRefresh("failed")
			return
		}

		o.mu.Lock()
		stale := seq != o.refreshSeq.Load() || seq <= o.appliedRefresh
		if !stale {
			o.appliedRefresh = seq
			o.store.ReplaceHistory(entries)
		}
		o.mu.Unlock()

		if stale {
			o.countRefresh("stale")
			return
		}
		o.sink(HistoryUpdated{Entries: entries})
		o.countRefresh("applied")
	}()
}

// ClearReport nulls the current report slot; history is untouched.
func (o *Orchestrator) ClearReport() {
	o.store.Clear()
	o.sink(ReportCleared{})
}

// StartCapture begins a speech capture cycle, surfacing a warning when one
// is already running.
func (o *Orchestrator) StartCapture() {
	if o.capture == nil {
		o.sink(Notification{Level: LevelWarning, Text: captureUnsupportedMsg})
		return
	}
	if err := o.capture.Start(); err != nil {
		if errors.Is(err, speech.ErrAlreadyCapturing) {
			o.sink(Notification{Level: LevelWarning, Text: captureBusyWarning})
			return
		}
		o.sink(Notification{Level: LevelError, Text: speechErrorPrefix + err.Error()})
		return
	}
	o.countSpeech("started")
	o.sink(RecordingStateChanged{State: speech.StateCapturing})
}

// StopCapture ends the capture early.
func (o *Orchestrator) StopCapture() {
	if o.capture != nil {
		o.capture.Stop()
	}
}

func (o *Orchestrator) handleSpeechEvent(evt speech.Event) {
	switch evt.Type {
	case speech.EventResult:
		o.mu.Lock()
		if o.resultMode == config.SpeechResultAppend && strings.TrimSpace(o.pendingInput) != "" {
			o.pendingInput = o.pendingInput + " " + evt.Text
		} else {
			o.pendingInput = evt.Text
		}
		composed := o.pendingInput
		o.mu.Unlock()
		o.countSpeech("result")
		o.sink(InputUpdated{Text: composed})
	case speech.EventError:
		o.countSpeech("error")
		o.sink(Notification{Level: LevelError, Text: speechErrorPrefix + string(evt.Kind)})
		o.sink(RecordingStateChanged{State: speech.StateErroring})
	case speech.EventEnd:
		o.countSpeech("end")
		o.sink(RecordingStateChanged{State: speech.StateIdle})
	}
}

// handleAvatarEvent mirrors widget state for the UI. Avatar signals update
// status only; they never gate message flow.
func (o *Orchestrator) handleAvatarEvent(evt avatar.Event) {
	if o.metrics != nil {
		o.metrics.AvatarEvents.WithLabelValues(string(evt.Type)).Inc()
	}
	state := avatar.StateConnecting
	if o.avatarCh != nil {
		state = o.avatarCh.State()
	}
	o.sink(AvatarStatusChanged{State: state, Detail: evt.Detail})
}

func (o *Orchestrator) setTurnState(s TurnState) {
	o.mu.Lock()
	o.turnState = s
	o.mu.Unlock()
}

func (o *Orchestrator) finishTurn(s TurnState) {
	o.mu.Lock()
	o.turnState = s
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countSpeech(event string) {
	if o.metrics != nil {
		o.metrics.SpeechEvents.WithLabelValues(event).Inc()
	}
}

func (o *Orchestrator) countRefresh(result string) {
	if o.metrics != nil {
		o.metrics.HistoryRefreshes.WithLabelValues(result).Inc()
	}
}
