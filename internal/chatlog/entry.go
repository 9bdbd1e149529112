package chatlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// TimestampLayout is the layout of the bracketed prefix on every log line.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrMalformedEntry is returned when a log line lacks the "[timestamp] " prefix.
var ErrMalformedEntry = errors.New("malformed chat log entry")

// Entry is one persisted broadcast.
type Entry struct {
	Time time.Time
	Text string
}

// NewEntry stamps text with the given time.
func NewEntry(at time.Time, text string) Entry {
	return Entry{Time: at, Text: text}
}

// String renders the entry as it appears in the file, without the newline.
func (e Entry) String() string {
	return "[" + e.Time.Format(TimestampLayout) + "] " + e.Text
}

// ParseEntry is the inverse of Entry.String. Timestamps are read in local time
// because that is how they are written.
func ParseEntry(line string) (Entry, error) {
	if !strings.HasPrefix(line, "[") {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedEntry, line)
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedEntry, line)
	}

	at, err := time.ParseInLocation(TimestampLayout, line[1:end], time.Local)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	return Entry{Time: at, Text: line[end+2:]}, nil
}

// Replay reads every entry from r in file order.
func Replay(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := ParseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chat log: %w", err)
	}

	return entries, nil
}

// ReadFile replays the log at path. A missing file is an empty log.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	return Replay(f)
}
