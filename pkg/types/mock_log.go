package types

import "sync"

// LogEntry is a message captured by MockLogger.
type LogEntry struct {
	Level   string
	Message string
}

// MockLogger is a Logger that records messages instead of writing them.
type MockLogger struct {
	entries []LogEntry
	mu      sync.Mutex
}

func (m *MockLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: msg})
}

func (m *MockLogger) Debug(msg string, fields ...interface{})  { m.record("debug", msg) }
func (m *MockLogger) Info(msg string, fields ...interface{})   { m.record("info", msg) }
func (m *MockLogger) Warn(msg string, fields ...interface{})   { m.record("warn", msg) }
func (m *MockLogger) Error(msg string, fields ...interface{})  { m.record("error", msg) }
func (m *MockLogger) Fatalf(msg string, fields ...interface{}) { m.record("fatal", msg) }

// Entries returns a copy of the recorded messages.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.entries...)
}

// Has reports whether a message was recorded at the given level.
func (m *MockLogger) Has(level, msg string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
