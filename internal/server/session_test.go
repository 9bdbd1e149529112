package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipeSession struct {
	session *Session
	client  net.Conn
	reader  *bufio.Reader
	done    chan struct{}
}

func startPipeSession(t *testing.T, registry *Registry, router *Router, opts SessionOptions, maxLine int) *pipeSession {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })

	ps := &pipeSession{
		session: NewSession(1, NewTCPLineConn(serverSide, maxLine), registry, router, testLogger(), opts),
		client:  clientSide,
		reader:  bufio.NewReader(clientSide),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(ps.done)
		ps.session.Run()
	}()
	return ps
}

func (ps *pipeSession) write(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, ps.client.SetWriteDeadline(time.Now().Add(lineTimeout)))
	_, err := ps.client.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (ps *pipeSession) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, ps.client.SetReadDeadline(time.Now().Add(lineTimeout)))
	line, err := ps.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func (ps *pipeSession) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-ps.done:
	case <-time.After(lineTimeout):
		t.Fatal("session did not finish")
	}
}

func TestSession_DisconnectBeforeNameIsSilent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), SessionOptions{}, 1024)

	req.NoError(ps.client.Close())
	ps.waitDone(t)

	req.Equal(StateClosed, ps.session.State())
	req.Zero(registry.Len())
	req.Zero(sink.Calls(), "nothing may be logged for a participant without a name")
}

func TestSession_BlankNameIsDropped(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), SessionOptions{}, 1024)

	ps.write(t, "   ")
	ps.waitDone(t)

	req.Equal(StateClosed, ps.session.State())
	req.Zero(registry.Len())
	req.Zero(sink.Calls())
}

func TestSession_Lifecycle(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), SessionOptions{}, 1024)

	ps.write(t, "  Alice ")
	req.Equal("Alice has joined the chat.", ps.read(t))
	req.Equal(StateActive, ps.session.State())
	req.Equal("Alice", ps.session.Name())
	req.True(registry.Contains(1))

	ps.write(t, "hi")
	req.Eventually(func() bool {
		return len(sink.Texts()) == 2
	}, lineTimeout, 10*time.Millisecond)

	req.NoError(ps.client.Close())
	ps.waitDone(t)

	req.Equal(StateClosed, ps.session.State())
	req.False(registry.Contains(1))
	req.Equal([]string{
		"Alice has joined the chat.",
		"Alice: hi",
		"Alice has left the chat.",
	}, sink.Texts())
}

func TestSession_ConcurrentCloseAnnouncesOnce(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(registry, &memorySink{}, testLogger())
	ps := startPipeSession(t, registry, router, SessionOptions{}, 1024)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))

	bob := newFakeParticipant(99, "Bob")
	registry.Register(bob)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps.session.Close()
		}()
	}
	wg.Wait()
	ps.waitDone(t)

	req.Equal([]string{"Alice has left the chat."}, bob.Lines())
	req.False(registry.Contains(1))
}

func TestSession_DepartureNotDeliveredToLeaver(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(registry, &memorySink{}, testLogger())
	ps := startPipeSession(t, registry, router, SessionOptions{}, 1024)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))

	ps.session.Close()
	ps.waitDone(t)

	// The server side is closed, so the read ends without a "has left" line
	// ever reaching Alice.
	line, err := ps.reader.ReadString('\n')
	req.Error(err)
	req.Empty(line)
	req.NotContains(line, "has left the chat.")
}

func TestSession_CloseBeforeRun(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	session := NewSession(7, NewTCPLineConn(serverSide, 1024), registry, NewRouter(registry, sink, testLogger()), testLogger(), SessionOptions{})
	session.Close()
	session.Run()

	req.Equal(StateClosed, session.State())
	req.Zero(sink.Calls())
}

func TestSession_RateLimitPacesWithoutDropping(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	// Two lines at once, then one every 150ms.
	opts := SessionOptions{RateLimit: RateLimitConfig{Burst: 2, RefillInterval: 300 * time.Millisecond}}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), opts, 1024)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))

	start := time.Now()
	go func() {
		_, _ = ps.client.Write([]byte("one\ntwo\nthree\nfour\n"))
	}()

	req.Eventually(func() bool { return len(sink.Texts()) == 5 }, lineTimeout, 10*time.Millisecond)
	req.GreaterOrEqual(time.Since(start), 250*time.Millisecond, "the last lines were not paced")
	req.Equal([]string{
		"Alice has joined the chat.",
		"Alice: one",
		"Alice: two",
		"Alice: three",
		"Alice: four",
	}, sink.Texts())
}

func TestSession_PacingStopsOnClose(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	opts := SessionOptions{RateLimit: RateLimitConfig{Burst: 1, RefillInterval: time.Hour}}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), opts, 1024)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))
	ps.write(t, "one")
	ps.write(t, "two")
	req.Eventually(func() bool { return len(sink.Texts()) == 2 }, lineTimeout, 10*time.Millisecond)

	// "two" is waiting for a token that will not arrive within the test.
	ps.session.Close()
	ps.waitDone(t)

	req.Equal([]string{
		"Alice has joined the chat.",
		"Alice: one",
		"Alice has left the chat.",
	}, sink.Texts())
}

func TestSession_OversizedLineDisconnects(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink := &memorySink{}
	ps := startPipeSession(t, registry, NewRouter(registry, sink, testLogger()), SessionOptions{}, 16)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))

	go func() {
		_, _ = ps.client.Write([]byte(strings.Repeat("x", 100) + "\n"))
	}()
	ps.waitDone(t)

	req.False(registry.Contains(1))
	req.Equal([]string{"Alice has joined the chat.", "Alice has left the chat."}, sink.Texts())
}

func TestSession_SlowPeerIsDisconnected(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(registry, &memorySink{}, testLogger())
	opts := SessionOptions{SendBufferSize: 1, WriteTimeout: time.Minute}
	ps := startPipeSession(t, registry, router, opts, 1024)

	ps.write(t, "Alice")
	req.Equal("Alice has joined the chat.", ps.read(t))

	// Alice stops reading; the pipe blocks the write pump and the queue fills.
	for range 5 {
		router.Broadcast(NewSystemMessage("flood"), false)
	}

	ps.waitDone(t)
	req.False(registry.Contains(1))
	req.Equal(StateClosed, ps.session.State())
}

func TestSessionState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("awaiting-name", StateAwaitingName.String())
	req.Equal("active", StateActive.String())
	req.Equal("closing", StateClosing.String())
	req.Equal("closed", StateClosed.String())
	req.Equal("unknown", SessionState(42).String())
}
