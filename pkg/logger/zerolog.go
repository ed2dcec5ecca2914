package logger

import "github.com/rs/zerolog"

// ZerologLogger adapts a zerolog.Logger to the Logger interface so binaries
// can emit structured logs while library code stays logger-agnostic.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// Debug logs debug message
func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs info message
func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs warning message
func (l *ZerologLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs error message
func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// SetLevel sets the logging level
func (l *ZerologLogger) SetLevel(level Level) {
	var zlvl zerolog.Level
	switch level {
	case LevelDebug:
		zlvl = zerolog.DebugLevel
	case LevelInfo:
		zlvl = zerolog.InfoLevel
	case LevelWarn:
		zlvl = zerolog.WarnLevel
	case LevelError:
		zlvl = zerolog.ErrorLevel
	}
	l.zl = l.zl.Level(zlvl)
}
