// Package notice carries short user-facing messages about failed actions.
package notice

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

type Notice struct {
	Level   Level  `json:"level"`
	Action  string `json:"action"`
	GameID  int    `json:"gameId,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a plain function to a Notifier.
type Func func(ctx context.Context, n Notice)

func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Nop drops every notice.
var Nop Notifier = Func(func(context.Context, Notice) {})

type logNotifier struct{ log *zap.Logger }

// NewLogger writes notices to a zap logger at a level matching the notice.
func NewLogger(log *zap.Logger) Notifier {
	return logNotifier{log: log.Named("notice")}
}

func (l logNotifier) Notify(_ context.Context, n Notice) {
	fields := []zap.Field{zap.String("action", n.Action)}
	if n.GameID != 0 {
		fields = append(fields, zap.Int("game_id", n.GameID))
	}
	if n.Err != nil {
		fields = append(fields, zap.Error(n.Err))
	}
	switch n.Level {
	case LevelError:
		l.log.Error(n.Message, fields...)
	case LevelWarning:
		l.log.Warn(n.Message, fields...)
	default:
		l.log.Info(n.Message, fields...)
	}
}

// Multi fans a notice out to every notifier in order.
func Multi(ns ...Notifier) Notifier {
	return Func(func(ctx context.Context, n Notice) {
		for _, x := range ns {
			x.Notify(ctx, n)
		}
	})
}

// Recorder keeps every notice; it backs the CLI output and tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
