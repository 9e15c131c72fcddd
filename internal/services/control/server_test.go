package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-grabber-go/internal/models"
)

func startServer(t *testing.T, network, address string, queue *Queue) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv := NewServer(Options{
		Network:      network,
		Address:      address,
		Greeting:     "connected",
		PollInterval: 5 * time.Millisecond,
		WriteTimeout: time.Second,
	}, queue, zerolog.Nop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		served <- srv.Serve(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return srv, cancel, served
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	greeting, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "connected\n", greeting)
	return conn, r
}

// drain consumes the queue slowly, the way a busy dispatcher would.
func drain(ctx context.Context, q *Queue, delay time.Duration, out chan<- models.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Signal():
		case <-time.After(5 * time.Millisecond):
		}
		for {
			cmd, ok := q.TryPop()
			if !ok {
				break
			}
			out <- cmd
			time.Sleep(delay)
		}
	}
}

func TestServerDeliversEveryCommandUnderBackpressure(t *testing.T) {
	const perClient = 150
	q := NewQueue(2, time.Millisecond)
	srv, _, _ := startServer(t, "tcp", "127.0.0.1:0", q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan models.Command, 2*perClient)
	go drain(ctx, q, 100*time.Microsecond, received)

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		conn, _ := dial(t, srv)
		wg.Add(1)
		go func(name string, conn net.Conn) {
			defer wg.Done()
			w := bufio.NewWriter(conn)
			for i := 0; i < perClient; i++ {
				fmt.Fprintf(w, "%s:%d\r\n", name, i)
			}
			w.Flush()
		}(name, conn)
	}
	wg.Wait()

	next := map[string]int{}
	origins := map[string]string{}
	deadline := time.After(10 * time.Second)
	for got := 0; got < 2*perClient; got++ {
		select {
		case cmd := <-received:
			want := next[cmd.Verb]
			assert.Equal(t, strconv.Itoa(want), cmd.Argument, "per-connection order for %s", cmd.Verb)
			next[cmd.Verb] = want + 1
			if id, ok := origins[cmd.Verb]; ok {
				assert.Equal(t, id, cmd.Origin.ID())
			}
			origins[cmd.Verb] = cmd.Origin.ID()
		case <-deadline:
			t.Fatalf("only %d of %d commands delivered", got, 2*perClient)
		}
	}
	assert.Equal(t, perClient, next["a"])
	assert.Equal(t, perClient, next["b"])
	assert.NotEqual(t, origins["a"], origins["b"])
	assert.Positive(t, q.Retries(), "queue never filled")
}

func TestServerReassemblesSplitLines(t *testing.T) {
	q := NewQueue(8, time.Millisecond)
	srv, _, _ := startServer(t, "tcp", "127.0.0.1:0", q)
	conn, _ := dial(t, srv)

	for _, chunk := range []string{"op", "en\nstr", "eam\n\n", "activefile"} {
		_, err := conn.Write([]byte(chunk))
		require.NoError(t, err)
		time.Sleep(15 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, 5*time.Millisecond)
	first, _ := q.TryPop()
	second, _ := q.TryPop()
	assert.Equal(t, models.VerbOpen, first.Verb)
	assert.Equal(t, models.VerbStream, second.Verb)
	assert.Zero(t, q.Len(), "unterminated line must not be emitted")
}

func TestServerClientSendReachesPeer(t *testing.T) {
	q := NewQueue(8, time.Millisecond)
	srv, _, _ := startServer(t, "tcp", "127.0.0.1:0", q)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("open\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	cmd, _ := q.TryPop()

	require.NoError(t, cmd.Origin.Send(models.ReplyOpen))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, models.ReplyOpen+"\n", line)
}

func TestServerHandlesDisconnect(t *testing.T) {
	q := NewQueue(8, time.Millisecond)
	srv, _, _ := startServer(t, "tcp", "127.0.0.1:0", q)
	conn, _ := dial(t, srv)

	_, err := conn.Write([]byte("framedonotify\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	cmd, _ := q.TryPop()
	assert.Equal(t, 1, srv.Connections())

	conn.Close()
	require.Eventually(t, func() bool { return srv.Connections() == 0 }, time.Second, 5*time.Millisecond)

	assert.Error(t, cmd.Origin.Send("cap:1"), "send on a disconnected client fails")
	assert.Zero(t, q.Len())

	// the server keeps serving others
	dial(t, srv)
}

func TestServerShutdownJoinsHandlers(t *testing.T) {
	q := NewQueue(8, time.Millisecond)
	srv, cancel, served := startServer(t, "tcp", "127.0.0.1:0", q)
	conn, r := dial(t, srv)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Zero(t, srv.Connections())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := r.ReadString('\n')
	assert.Error(t, err, "connection is closed on shutdown")

	_, err = net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
	assert.Error(t, err, "listener is closed on shutdown")
}

func TestServerUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "grb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "g.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600), "stale socket file")

	q := NewQueue(8, time.Millisecond)
	srv, _, _ := startServer(t, "unix", path, q)
	conn, _ := dial(t, srv)

	_, err = conn.Write([]byte("release\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	cmd, _ := q.TryPop()
	assert.Equal(t, models.VerbRelease, cmd.Verb)
	assert.NotEmpty(t, cmd.Origin.RemoteAddr())
}
