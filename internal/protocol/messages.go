package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hugomdz/consultavirtual/internal/report"
	"github.com/hugomdz/consultavirtual/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeUserMessage    MessageType = "user_message"
	TypeSpeechControl  MessageType = "speech_control"
	TypeSpeechResult   MessageType = "speech_result"
	TypeSpeechError    MessageType = "speech_error"
	TypeSpeechEnd      MessageType = "speech_end"
	TypeAvatarEvent    MessageType = "avatar_event"
	TypeAvatarPresence MessageType = "avatar_presence"
	TypeInputChanged   MessageType = "input_changed"
	TypeHistoryRequest MessageType = "history_request"
	TypeReportClear    MessageType = "report_clear"

	// Server -> client.
	TypeMessageAdded   MessageType = "message_added"
	TypeReportUpdated  MessageType = "report_updated"
	TypeReportCleared  MessageType = "report_cleared"
	TypeNotification   MessageType = "notification"
	TypeRecordingState MessageType = "recording_state"
	TypeAvatarStatus   MessageType = "avatar_status"
	TypeInputUpdated   MessageType = "input_updated"
	TypeSpeechStart    MessageType = "speech_start"
	TypeSpeechStop     MessageType = "speech_stop"
	TypeAvatarSpeak    MessageType = "avatar_speak"
	TypeHistory        MessageType = "history"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage carries one typed consultation query from the shell.
type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// SpeechControl asks the service to start or stop a capture cycle.
type SpeechControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// SpeechResult replays the shell recognizer's onresult callback.
type SpeechResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// SpeechError replays the recognizer's onerror callback with its raw code.
type SpeechError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
}

// SpeechEnd replays the recognizer's onend callback.
type SpeechEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// AvatarEvent relays one widget window message together with the origin the
// shell observed on it.
type AvatarEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Origin    string      `json:"origin"`
	Event     string      `json:"event"`
	Detail    string      `json:"detail,omitempty"`
}

// AvatarPresence reports whether the widget element is mounted in the page.
type AvatarPresence struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Present   bool        `json:"present"`
}

// InputChanged mirrors the shell's input box so speech results can compose
// against what the user already typed.
type InputChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type HistoryRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ReportClear struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type MessageAdded struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Turn      session.Turn `json:"turn"`
}

type ReportUpdated struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	Report    report.Report `json:"report"`
}

type ReportCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Notification struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     string      `json:"level"`
	Text      string      `json:"text"`
}

type RecordingState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type AvatarStatus struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Detail    string      `json:"detail,omitempty"`
}

type InputUpdated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// SpeechStart instructs the shell to start its recognizer.
type SpeechStart struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Lang      string      `json:"lang"`
}

type SpeechStop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// AvatarSpeak instructs the shell to relay one utterance to the widget.
type AvatarSpeak struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type History struct {
	Type      MessageType           `json:"type"`
	SessionID string                `json:"session_id"`
	Entries   []report.HistoryEntry `json:"entries"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypeSpeechControl:
		var msg SpeechControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || (msg.Action != "start" && msg.Action != "stop") {
			return nil, errors.New("invalid speech_control")
		}
		return msg, nil
	case TypeSpeechResult:
		var msg SpeechResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid speech_result")
		}
		return msg, nil
	case TypeSpeechError:
		var msg SpeechError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Kind == "" {
			return nil, errors.New("invalid speech_error")
		}
		return msg, nil
	case TypeSpeechEnd:
		var msg SpeechEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid speech_end")
		}
		return msg, nil
	case TypeAvatarEvent:
		var msg AvatarEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Event == "" {
			return nil, errors.New("invalid avatar_event")
		}
		return msg, nil
	case TypeAvatarPresence:
		var msg AvatarPresence
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid avatar_presence")
		}
		return msg, nil
	case TypeInputChanged:
		var msg InputChanged
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid input_changed")
		}
		return msg, nil
	case TypeHistoryRequest:
		var msg HistoryRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid history_request")
		}
		return msg, nil
	case TypeReportClear:
		var msg ReportClear
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid report_clear")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
