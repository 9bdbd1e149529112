// Package server defines shared message types and utility helpers that are
// reused across session, router and transport logic.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemOrigin is the origin id of join and leave announcements.
const SystemOrigin uint64 = 0

// Message is one broadcast: a chat line from a participant or a system
// announcement. Messages are built per inbound line or lifecycle event and
// consumed immediately by the Router, which sets Timestamp once the message
// has its place in the total order.
type Message struct {
	ID        uuid.UUID
	Origin    uint64
	Text      string
	Timestamp time.Time
}

// NewChatMessage builds the "<name>: <text>" broadcast for a participant line.
func NewChatMessage(origin uint64, name, text string) Message {
	return Message{
		ID:     uuid.New(),
		Origin: origin,
		Text:   name + ": " + text,
	}
}

// NewSystemMessage builds a broadcast that belongs to no participant.
func NewSystemMessage(text string) Message {
	return Message{
		ID:     uuid.New(),
		Origin: SystemOrigin,
		Text:   text,
	}
}

func joinAnnouncement(name string) Message {
	return NewSystemMessage(name + " has joined the chat.")
}

func leaveAnnouncement(name string) Message {
	return NewSystemMessage(name + " has left the chat.")
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
