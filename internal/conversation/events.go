package conversation

import (
	"github.com/hugomdz/consultavirtual/internal/avatar"
	"github.com/hugomdz/consultavirtual/internal/report"
	"github.com/hugomdz/consultavirtual/internal/session"
	"github.com/hugomdz/consultavirtual/internal/speech"
)

// NotificationLevel mirrors the toast styling levels the shell knows.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Events emitted to the presentation sink. The shell paints them; the
// orchestrator never touches the DOM.

type MessageAdded struct {
	Turn session.Turn
}

type ReportUpdated struct {
	Report report.Report
}

type ReportCleared struct{}

type Notification struct {
	Level NotificationLevel
	Text  string
}

type RecordingStateChanged struct {
	State speech.State
}

type AvatarStatusChanged struct {
	State  avatar.State
	Detail string
}

type InputUpdated struct {
	Text string
}

type HistoryUpdated struct {
	Entries []report.HistoryEntry
}

type ErrorEvent struct {
	Code      string
	Source    string
	Retryable bool
	Detail    string
}

// Sink receives orchestrator events. Implementations must not block for
// long; the websocket pump buffers writes.
type Sink func(evt any)
