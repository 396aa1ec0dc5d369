package session

import (
	"context"

	"github.com/rs/zerolog"
)

// Level is the severity of a user-visible message.
type Level string

// Message levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// User-visible message texts.
const (
	TextCapabilityUnavailable = "This device does not support Bluetooth"
	TextPermissionDenied      = "Bluetooth permission not granted"
	TextEnabled               = "Bluetooth enabled"
	TextEnableDeclined        = "Failed to enable Bluetooth"
	TextUnbondConfirm         = "Remove the bond with this device?"
)

// Message is a short notice for the user, the headless counterpart of a toast.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Notifier shows messages to the user.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// MultiNotifier fans a message out in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, msg Message) {
	for _, n := range m {
		n.Notify(ctx, msg)
	}
}

// LogNotifier writes messages to the context logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, msg Message) {
	logger := zerolog.Ctx(ctx)

	var ev *zerolog.Event

	switch msg.Level {
	case LevelError:
		ev = logger.Error()
	case LevelWarning:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}

	ev.Str("notice", msg.Text).Msg("user message")
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) { f(ctx, msg) }
