package logging

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"` // "debug", "info", "warn", "error"
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes"` // Structured fields
}

// LogCollector provides thread-safe storage for per-run logs.
type LogCollector struct {
	mu   sync.RWMutex
	logs map[string][]LogEntry // runID -> log entries
}

// NewLogCollector creates a new LogCollector.
func NewLogCollector() *LogCollector {
	return &LogCollector{
		logs: make(map[string][]LogEntry),
	}
}

// AddLog adds a log entry for the specified run (thread-safe).
func (c *LogCollector) AddLog(runID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs[runID] = append(c.logs[runID], entry)
}

// GetLogs retrieves all log entries for a specific run (thread-safe).
func (c *LogCollector) GetLogs(runID string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return a copy to prevent external modification
	logs, exists := c.logs[runID]
	if !exists {
		return nil
	}

	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// GetAllLogs returns all logs grouped by run ID (thread-safe).
// Returns a copy of the internal map to prevent external modification.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]LogEntry, len(c.logs))
	for runID, logs := range c.logs {
		logsCopy := make([]LogEntry, len(logs))
		copy(logsCopy, logs)
		result[runID] = logsCopy
	}

	return result
}

// FormatLogs renders a run's captured entries as one text line each,
// attributes sorted by key. The dead-letter recorder attaches these to
// failed entries so an operator can triage without a log backend.
func (c *LogCollector) FormatLogs(runID string) []string {
	entries := c.GetLogs(runID)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %s %s", e.Time.Format(time.RFC3339), e.Level, e.Message)
		keys := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf(" %s=%v", k, e.Attributes[k])
		}
		lines = append(lines, line)
	}
	return lines
}

// Drop discards the captured logs for one run (thread-safe). Callers
// drop a run once its logs have been attached or are no longer needed.
func (c *LogCollector) Drop(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.logs, runID)
}

// Clear resets the log collector, removing all stored logs (thread-safe).
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = make(map[string][]LogEntry)
}
