package logger

import (
	"go.uber.org/zap"
)

// LoggerAdapter provides a unified interface for both single and multi-logger.
// Components log through the adapter so they work with or without a logs
// directory configured.
type LoggerAdapter struct {
	multiLogger  *MultiLogger
	singleLogger *zap.Logger
}

// NewLoggerAdapter creates an adapter that writes category events to
// multiLogger and everything else to general. multiLogger may be nil.
func NewLoggerAdapter(general *zap.Logger, multiLogger *MultiLogger) *LoggerAdapter {
	if general == nil {
		general = zap.NewNop()
	}
	return &LoggerAdapter{
		multiLogger:  multiLogger,
		singleLogger: general,
	}
}

// NewSingleLoggerAdapter creates an adapter for a single logger
func NewSingleLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	return NewLoggerAdapter(logger, nil)
}

func (la *LoggerAdapter) category(c LogCategory) *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.GetLogger(c)
	}
	return la.singleLogger.With(zap.String("category", string(c)))
}

// Session returns the session lifecycle logger
func (la *LoggerAdapter) Session() *zap.Logger {
	return la.category(CategorySession)
}

// Sweeper returns the expiry sweeper logger
func (la *LoggerAdapter) Sweeper() *zap.Logger {
	return la.category(CategorySweeper)
}

// Access returns the HTTP access logger
func (la *LoggerAdapter) Access() *zap.Logger {
	return la.category(CategoryAccess)
}

// General returns the general logger
func (la *LoggerAdapter) General() *zap.Logger {
	return la.singleLogger
}

// LogError logs an error to the general log and, when categorized logging is
// enabled, to the error category with the originating category attached.
func (la *LoggerAdapter) LogError(category LogCategory, msg string, fields ...zap.Field) {
	la.singleLogger.Error(msg, fields...)
	if la.multiLogger != nil {
		la.multiLogger.LogAppError(msg, append(fields, zap.String("source", string(category)))...)
	}
}

// Sync flushes all loggers
func (la *LoggerAdapter) Sync() error {
	err := la.singleLogger.Sync()
	if la.multiLogger != nil {
		if mErr := la.multiLogger.Sync(); mErr != nil {
			err = mErr
		}
	}
	return err
}
