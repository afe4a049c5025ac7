package scheduler

import (
	"go.uber.org/zap"

	"github.com/guildkit/guild-leveling/pkg/logger"
)

// cronLogger adapts the service logger to gocron.Logger.
// gocron passes key/value pairs, which the sugared zap logger accepts as is.
// Its info output is per-tick chatter and goes to debug.
type cronLogger struct {
	s *zap.SugaredLogger
}

func newCronLogger(l *logger.Logger) cronLogger {
	return cronLogger{s: l.Zap().Sugar()}
}

func (l cronLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l cronLogger) Info(msg string, args ...any)  { l.s.Debugw(msg, args...) }
func (l cronLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l cronLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
