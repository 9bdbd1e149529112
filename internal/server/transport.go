// Package server adapts raw TCP sockets and WebSocket connections to the
// line-oriented transport a Session reads from and writes to.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrLineTooLong is returned by ReadLine when a client line exceeds the
// configured maximum message size.
var ErrLineTooLong = errors.New("line exceeds maximum message size")

// LineConn is a bidirectional, newline-framed text connection.
type LineConn interface {
	// ReadLine blocks until a full line arrives, without the terminator.
	ReadLine() (string, error)
	// WriteLine writes text followed by a line terminator within timeout.
	WriteLine(text string, timeout time.Duration) error
	// Close ends the connection, with a closing handshake where the
	// protocol has one.
	Close() error
	// Abort drops the socket immediately and never blocks.
	Abort() error
	RemoteAddr() string
}

type tcpLineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	closeMu sync.Once
}

// NewTCPLineConn wraps a stream connection. Lines longer than maxLineSize
// bytes end the read loop with ErrLineTooLong.
func NewTCPLineConn(conn net.Conn, maxLineSize int) LineConn {
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxLineSize < initial {
		initial = maxLineSize
	}
	// The scanner needs room for the terminator as well as the payload.
	scanner.Buffer(make([]byte, 0, initial), maxLineSize+2)

	return &tcpLineConn{conn: conn, scanner: scanner}
}

func (c *tcpLineConn) ReadLine() (string, error) {
	if c.scanner.Scan() {
		return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
	}
	err := c.scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return "", ErrLineTooLong
	}
	if err == nil {
		return "", errEndOfStream
	}
	return "", err
}

func (c *tcpLineConn) WriteLine(text string, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	_, err := c.conn.Write([]byte(text + "\n"))
	return err
}

func (c *tcpLineConn) Close() error {
	var err error
	c.closeMu.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *tcpLineConn) Abort() error {
	return c.Close()
}

func (c *tcpLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type wsLineConn struct {
	conn    *websocket.Conn
	addr    string
	closeMu sync.Once
}

// NewWebSocketLineConn treats every text frame as one line.
func NewWebSocketLineConn(conn *websocket.Conn, addr string, maxLineSize int) LineConn {
	conn.SetReadLimit(int64(maxLineSize))
	// Hijacked connections keep the HTTP server's deadlines.
	_ = conn.SetReadDeadline(time.Time{})
	return &wsLineConn{conn: conn, addr: addr}
}

func (c *wsLineConn) ReadLine() (string, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", ErrLineTooLong
			}
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				return "", errEndOfStream
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(payload), "\r\n"), nil
	}
}

func (c *wsLineConn) WriteLine(text string, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsLineConn) Close() error {
	var err error
	c.closeMu.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// Abort closes the underlying socket without writing a close frame, which
// would wait on a writer stuck behind a peer that stopped reading.
func (c *wsLineConn) Abort() error {
	return c.conn.NetConn().Close()
}

func (c *wsLineConn) RemoteAddr() string {
	return c.addr
}

// errEndOfStream marks an orderly close by the peer.
var errEndOfStream = errors.New("end of stream")
