package logging

import (
	"log/slog"
)

// LoggerHook creates run-specific loggers by wrapping a base logger.
// This keeps the scheduler generic while supporting per-run log
// capture through custom implementations.
type LoggerHook interface {
	// LoggerForRun wraps the base logger to create a run-specific logger.
	LoggerForRun(baseLogger *slog.Logger, runID string) *slog.Logger
}

// CapturingLoggerHook creates loggers that capture logs via CapturingHandler.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook that captures all run logs.
func NewCapturingLoggerHook(collector *LogCollector) LoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerForRun creates a run-specific logger with capturing enabled.
// Each call wraps the base logger with a CapturingHandler keyed on the run ID.
func (p *CapturingLoggerHook) LoggerForRun(baseLogger *slog.Logger, runID string) *slog.Logger {
	capturingHandler := NewCapturingHandler(
		baseLogger.Handler(),
		p.collector,
		runID,
	)
	return slog.New(capturingHandler)
}
