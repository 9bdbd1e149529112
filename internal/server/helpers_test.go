package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/linechat/internal/chatlog"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const lineTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// testConfig listens on an ephemeral loopback port with the default settings.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.HTTPPort = ""
	cfg.LogFile = filepath.Join(t.TempDir(), "chat_log.txt")
	return cfg
}

// startService runs a Service until the test ends.
func startService(t *testing.T, cfg Config) *Service {
	t.Helper()

	svc := NewService(cfg, chatlog.NewFileSink(cfg.LogFile), testLogger())
	require.NoError(t, svc.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = svc.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = svc.Shutdown(2 * time.Second)
		<-served
	})
	return svc
}

// lineClient is a raw protocol client used to observe exactly what the
// server writes.
type lineClient struct {
	name   string
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, lineTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

// join connects, sends name and waits for the participant's own join
// announcement, which proves registration completed.
func join(t *testing.T, svc *Service, name string) *lineClient {
	t.Helper()
	c := dial(t, svc.Addr().String())
	c.name = name
	c.send(t, name)
	c.expectLine(t, name+" has joined the chat.")
	return c
}

func (c *lineClient) send(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, c.conn.SetWriteDeadline(time.Now().Add(lineTimeout)))
	_, err := c.conn.Write([]byte(text + "\n"))
	require.NoError(t, err)
}

func (c *lineClient) readLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *lineClient) expectLine(t *testing.T, want string) {
	t.Helper()
	got, err := c.readLine(lineTimeout)
	require.NoError(t, err, "%s waiting for %q", c.name, want)
	require.Equal(t, want, got, "%s received unexpected line", c.name)
}

func (c *lineClient) expectNoLine(t *testing.T, wait time.Duration) {
	t.Helper()
	got, err := c.readLine(wait)
	require.Error(t, err, "%s unexpectedly received %q", c.name, got)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout(), "expected a read timeout, got %v", err)
}

// fakeParticipant records every line the router hands it.
type fakeParticipant struct {
	id   uint64
	name string

	mu    sync.Mutex
	lines []string
}

func newFakeParticipant(id uint64, name string) *fakeParticipant {
	return &fakeParticipant{id: id, name: name}
}

func (f *fakeParticipant) ID() uint64   { return f.id }
func (f *fakeParticipant) Name() string { return f.name }

func (f *fakeParticipant) SendLine(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
}

func (f *fakeParticipant) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// memorySink keeps appended entries in memory and can be told to fail.
type memorySink struct {
	mu       sync.Mutex
	entries  []chatlog.Entry
	err      error
	calls    int
	onAppend func(chatlog.Entry)
}

func (s *memorySink) Append(e chatlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.onAppend != nil {
		s.onAppend(e)
	}
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memorySink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		texts = append(texts, e.Text)
	}
	return texts
}

func (s *memorySink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
