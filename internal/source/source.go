// Package source provides the producers feeding the relay queue: decoded
// log lines read from tailed files or from a newline-delimited stream.
package source

// LogEntry represents a single decoded log line bound for the relay.
type LogEntry struct {
	// Line is the decoded line text with trailing whitespace removed.
	Line string
	// Source identifies which monitor or stream produced this entry.
	Source string
}

// Sink receives entries from producers. Implementations must not block
// the caller waiting for a consumer.
type Sink interface {
	Push(entries ...LogEntry)
}
