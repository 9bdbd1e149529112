// Package client is the line-protocol chat client used by presentation
// layers: it sends the display name on connect, exposes every received line
// on a channel and sends chat lines with Send.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	// ErrClientClosed is returned by Send after Close or a lost connection.
	ErrClientClosed = errors.New("chat client closed")
	// ErrInvalidText is returned for text that would break line framing.
	ErrInvalidText = errors.New("chat text must be a single line")
)

const (
	joinedSuffix = " has joined the chat."
	leftSuffix   = " has left the chat."
)

// Client is one connected participant.
type Client struct {
	conn     net.Conn
	name     string
	log      *slog.Logger
	messages chan string

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to addr and announces name.
func Dial(ctx context.Context, addr, name string, log *slog.Logger) (*Client, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return nil, fmt.Errorf("name: %w", ErrInvalidText)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		name:     name,
		log:      log.With("addr", addr, "name", name),
		messages: make(chan string, 64),
		done:     make(chan struct{}),
	}

	if err := c.writeLine(name); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send name: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Name returns the name the client announced.
func (c *Client) Name() string { return c.name }

// Messages delivers every line the server broadcasts, in order. The channel
// is closed when the connection ends.
func (c *Client) Messages() <-chan string { return c.messages }

// Send transmits one chat line.
func (c *Client) Send(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrInvalidText
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if err := c.writeLine(text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close disconnects. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Err returns the error that ended the read loop, if any. An orderly close
// by either side leaves it nil.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) writeLine(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(text + "\n"))
	return err
}

func (c *Client) readLoop() {
	defer close(c.messages)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		select {
		case c.messages <- line:
		case <-c.done:
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		select {
		case <-c.done:
		default:
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			c.log.Warn("Connection lost", "error", err)
		}
	}
}

// IsAnnouncement reports whether line is a join or leave announcement rather
// than a participant's chat line. Chat lines carry a "<name>: " prefix, so a
// line quoting an announcement is still chat.
func IsAnnouncement(line string) bool {
	name, ok := strings.CutSuffix(line, joinedSuffix)
	if !ok {
		name, ok = strings.CutSuffix(line, leftSuffix)
	}
	return ok && name != "" && !strings.Contains(name, ": ")
}
