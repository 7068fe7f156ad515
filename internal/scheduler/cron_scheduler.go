package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// intervalSchedule fires as soon as the cron starts, then every interval after the previous run.
// Unlike cron.Every it keeps sub-second precision.
type intervalSchedule struct {
	interval time.Duration
	fired    atomic.Bool
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if s.fired.CompareAndSwap(false, true) {
		return t
	}
	return t.Add(s.interval)
}

func newCron(logger *zap.Logger) *cron.Cron {
	cl := &cronLogger{logger: logger.Named("cron")}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}
