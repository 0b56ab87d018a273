package scheduler

import (
	"log/slog"
)

// cronLogger routes robfig/cron's internal logging to slog. Info messages
// are demoted to debug since cron logs every wake-up.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
