package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"tengo dolor de cabeza"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	user, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if user.SessionID != "s1" || user.Text != "tengo dolor de cabeza" {
		t.Fatalf("unexpected user message: %+v", user)
	}
}

func TestParseClientMessageAllowsEmptyText(t *testing.T) {
	// Whitespace-only input is a valid wire message; the orchestrator decides
	// whether it is an acceptable query.
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"   "}`)
	if _, err := ParseClientMessage(raw); err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
}

func TestParseClientMessageSpeechControl(t *testing.T) {
	raw := []byte(`{"type":"speech_control","session_id":"s1","action":"start"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(SpeechControl)
	if !ok {
		t.Fatalf("message type = %T, want SpeechControl", msg)
	}
	if control.Action != "start" {
		t.Fatalf("Action = %q, want %q", control.Action, "start")
	}
}

func TestParseClientMessageRejectsBadSpeechAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"speech_control","session_id":"s1","action":"pause"}`))
	if err == nil {
		t.Fatalf("expected validation error for unknown action")
	}
}

func TestParseClientMessageAvatarEventKeepsOrigin(t *testing.T) {
	raw := []byte(`{"type":"avatar_event","session_id":"s1","origin":"https://agent.d-id.com","event":"agent:ready"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	evt, ok := msg.(AvatarEvent)
	if !ok {
		t.Fatalf("message type = %T, want AvatarEvent", msg)
	}
	if evt.Origin != "https://agent.d-id.com" || evt.Event != "agent:ready" {
		t.Fatalf("unexpected avatar event: %+v", evt)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMissingSession(t *testing.T) {
	cases := []string{
		`{"type":"user_message","text":"hola"}`,
		`{"type":"speech_result","text":"hola"}`,
		`{"type":"speech_error","kind":"no-speech"}`,
		`{"type":"avatar_event","origin":"https://agent.d-id.com","event":"agent:ready"}`,
		`{"type":"history_request"}`,
		`{"type":"report_clear"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) accepted a message without session_id", raw)
		}
	}
}

func TestParseClientMessageRejectsInvalidEnvelope(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}
