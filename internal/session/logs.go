package session

import (
	"strings"
	"sync"
)

// LogFeed holds the engine's recent log lines. The feed is append-only at
// the source: every poll delivers the full recent window and the feed
// re-parses it, honoring a user "clear" watermark so dismissed lines stay
// dismissed across polls.
type LogFeed struct {
	mu       sync.Mutex
	capacity int
	entries  []LogEntry
	// clearMark is a time-of-day watermark ("HH:MM:SS"); lines at or
	// before it are hidden. Lexicographic compare is safe for the fixed
	// zero-padded format.
	clearMark string
}

func NewLogFeed(capacity int) *LogFeed {
	if capacity <= 0 {
		capacity = 200
	}
	return &LogFeed{capacity: capacity}
}

// SetLines replaces the feed content with the parsed engine lines,
// newest first, applying the clear watermark and the capacity bound.
func (f *LogFeed) SetLines(lines []string) {
	parsed := make([]LogEntry, 0, len(lines))
	// Engine sends oldest first; the dashboard shows newest first.
	for i := len(lines) - 1; i >= 0; i-- {
		parsed = append(parsed, ParseLogLine(lines[i]))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	kept := parsed[:0]
	for _, e := range parsed {
		if f.clearMark != "" && e.Timestamp != "" && e.Timestamp <= f.clearMark {
			continue
		}
		kept = append(kept, e)
		if len(kept) >= f.capacity {
			break
		}
	}
	f.entries = append([]LogEntry(nil), kept...)
}

// Entries returns the visible log entries, newest first.
func (f *LogFeed) Entries() []LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogEntry(nil), f.entries...)
}

// Clear hides everything currently visible. Later lines show up again.
func (f *LogFeed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) > 0 && f.entries[0].Timestamp != "" {
		f.clearMark = f.entries[0].Timestamp
	}
	f.entries = nil
}

// ParseLogLine splits the engine's "HH:MM:SS - LEVEL - message" format.
// Lines that do not match keep their full text as the message.
func ParseLogLine(line string) LogEntry {
	parts := strings.SplitN(line, " - ", 3)
	if len(parts) < 3 {
		return LogEntry{Severity: "info", Message: strings.TrimSpace(line)}
	}
	return LogEntry{
		Timestamp: strings.TrimSpace(parts[0]),
		Severity:  mapSeverity(parts[1], parts[2]),
		Message:   strings.TrimSpace(parts[2]),
	}
}

func mapSeverity(level, message string) string {
	level = strings.ToUpper(level)
	switch {
	case strings.Contains(level, "ERROR"):
		return "error"
	case strings.Contains(level, "WARNING"), strings.Contains(level, "WARN"):
		return "warning"
	case strings.Contains(level, "SUCCESS"), strings.Contains(message, "Success"):
		return "success"
	default:
		return "info"
	}
}
