package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hugomdz/consultavirtual/internal/avatar"
	"github.com/hugomdz/consultavirtual/internal/conversation"
	"github.com/hugomdz/consultavirtual/internal/protocol"
	"github.com/hugomdz/consultavirtual/internal/session"
	"github.com/hugomdz/consultavirtual/internal/speech"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsReadDeadline  = 120 * time.Second
	wsOutboundDepth = 256
)

// handleSessionWS runs the shell connection: one websocket per page, carrying
// speech and avatar callbacks inbound and presentation events outbound.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	store := s.storeFor(sessionID)
	if store == nil {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, wsOutboundDepth)
	enqueue := func(msg any) {
		select {
		case outbound <- msg:
			s.countWS("outbound", msg)
		default:
			// Keep websocket writes single-threaded; drop if the queue is
			// saturated rather than block the orchestrator.
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
			}
		}
	}

	capture := speech.NewBridge(s.cfg.SpeechLang, func(action, lang string) {
		switch action {
		case "start":
			enqueue(protocol.SpeechStart{Type: protocol.TypeSpeechStart, SessionID: sessionID, Lang: lang})
		case "stop":
			enqueue(protocol.SpeechStop{Type: protocol.TypeSpeechStop, SessionID: sessionID})
		}
	})

	avatarCh := avatar.NewBridge(s.cfg.AvatarProviderOrigin, func(text string) error {
		select {
		case outbound <- protocol.AvatarSpeak{Type: protocol.TypeAvatarSpeak, SessionID: sessionID, Text: text}:
			s.countWS("outbound", protocol.AvatarSpeak{Type: protocol.TypeAvatarSpeak})
			return nil
		default:
			return errors.New("avatar relay queue full")
		}
	})

	orch := conversation.New(
		sessionID,
		s.sessions,
		s.querier,
		store,
		capture,
		avatarCh,
		s.metrics,
		s.cfg.SpeechResultMode,
		s.sinkFor(sessionID, enqueue),
	)
	defer orch.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Pre-populate the sidebar before the first exchange.
	orch.RefreshHistory()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		s.countWS("inbound", parsed)
		_ = s.sessions.Touch(sessionID)

		s.dispatch(ctx, sessionID, parsed, orch, capture, avatarCh, enqueue)
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) dispatch(
	ctx context.Context,
	sessionID string,
	msg any,
	orch *conversation.Orchestrator,
	capture *speech.Bridge,
	avatarCh *avatar.Bridge,
	enqueue func(any),
) {
	switch m := msg.(type) {
	case protocol.UserMessage:
		// Submit blocks on the backend; keep the read loop responsive.
		go func() {
			if err := orch.Submit(ctx, m.Text); errors.Is(err, conversation.ErrBusy) {
				enqueue(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "submit_busy",
					Source:    "orchestrator",
					Retryable: false,
					Detail:    "a submission is already in flight",
				})
			}
		}()
	case protocol.SpeechControl:
		if m.Action == "start" {
			orch.StartCapture()
		} else {
			orch.StopCapture()
		}
	case protocol.SpeechResult:
		capture.DeliverResult(m.Text)
	case protocol.SpeechError:
		capture.DeliverError(m.Kind)
	case protocol.SpeechEnd:
		capture.DeliverEnd()
	case protocol.AvatarEvent:
		if !avatarCh.Deliver(m.Origin, avatar.EventType(m.Event), m.Detail) {
			if s.metrics != nil {
				s.metrics.AvatarEvents.WithLabelValues("discarded_origin").Inc()
			}
		}
	case protocol.AvatarPresence:
		avatarCh.SetPresence(m.Present)
	case protocol.InputChanged:
		orch.SetPendingInput(m.Text)
	case protocol.HistoryRequest:
		orch.RefreshHistory()
	case protocol.ReportClear:
		orch.ClearReport()
	}
}

// sinkFor translates orchestrator events into wire messages for one shell.
func (s *Server) sinkFor(sessionID string, enqueue func(any)) conversation.Sink {
	return func(evt any) {
		switch e := evt.(type) {
		case conversation.MessageAdded:
			enqueue(protocol.MessageAdded{Type: protocol.TypeMessageAdded, SessionID: sessionID, Turn: e.Turn})
		case conversation.ReportUpdated:
			enqueue(protocol.ReportUpdated{Type: protocol.TypeReportUpdated, SessionID: sessionID, Report: e.Report})
		case conversation.ReportCleared:
			enqueue(protocol.ReportCleared{Type: protocol.TypeReportCleared, SessionID: sessionID})
		case conversation.Notification:
			enqueue(protocol.Notification{Type: protocol.TypeNotification, SessionID: sessionID, Level: string(e.Level), Text: e.Text})
		case conversation.RecordingStateChanged:
			enqueue(protocol.RecordingState{Type: protocol.TypeRecordingState, SessionID: sessionID, State: string(e.State)})
		case conversation.AvatarStatusChanged:
			enqueue(protocol.AvatarStatus{Type: protocol.TypeAvatarStatus, SessionID: sessionID, State: string(e.State), Detail: e.Detail})
		case conversation.InputUpdated:
			enqueue(protocol.InputUpdated{Type: protocol.TypeInputUpdated, SessionID: sessionID, Text: e.Text})
		case conversation.HistoryUpdated:
			enqueue(protocol.History{Type: protocol.TypeHistory, SessionID: sessionID, Entries: e.Entries})
		case conversation.ErrorEvent:
			enqueue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      e.Code,
				Source:    e.Source,
				Retryable: e.Retryable,
				Detail:    e.Detail,
			})
		}
	}
}

func (s *Server) countWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.SpeechControl:
		return m.Type, true
	case protocol.SpeechResult:
		return m.Type, true
	case protocol.SpeechError:
		return m.Type, true
	case protocol.SpeechEnd:
		return m.Type, true
	case protocol.AvatarEvent:
		return m.Type, true
	case protocol.AvatarPresence:
		return m.Type, true
	case protocol.InputChanged:
		return m.Type, true
	case protocol.HistoryRequest:
		return m.Type, true
	case protocol.ReportClear:
		return m.Type, true
	case protocol.MessageAdded:
		return m.Type, true
	case protocol.ReportUpdated:
		return m.Type, true
	case protocol.ReportCleared:
		return m.Type, true
	case protocol.Notification:
		return m.Type, true
	case protocol.RecordingState:
		return m.Type, true
	case protocol.AvatarStatus:
		return m.Type, true
	case protocol.InputUpdated:
		return m.Type, true
	case protocol.SpeechStart:
		return m.Type, true
	case protocol.SpeechStop:
		return m.Type, true
	case protocol.AvatarSpeak:
		return m.Type, true
	case protocol.History:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
