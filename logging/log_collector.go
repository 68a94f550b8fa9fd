package logging

import (
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// LogCollector is a thread-safe store of log entries grouped by key, e.g.
// the ID of the step that emitted them.
type LogCollector struct {
	mu   sync.RWMutex
	logs map[string][]LogEntry
}

// NewLogCollector creates a new LogCollector.
func NewLogCollector() *LogCollector {
	return &LogCollector{
		logs: make(map[string][]LogEntry),
	}
}

// Add appends entry under key.
func (c *LogCollector) Add(key string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs[key] = append(c.logs[key], entry)
}

// Entries returns a copy of the entries recorded under key, or nil.
func (c *LogCollector) Entries(key string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, ok := c.logs[key]
	if !ok {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// Remove drops the entries recorded under keys.
func (c *LogCollector) Remove(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.logs, key)
	}
}

// Len returns the number of keys with recorded entries.
func (c *LogCollector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.logs)
}

// LoggerFor returns a logger derived from base whose records are also
// captured under key.
func (c *LogCollector) LoggerFor(base *slog.Logger, key string) *slog.Logger {
	return slog.New(NewCapturingHandler(base.Handler(), c, key))
}
