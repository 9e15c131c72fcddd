package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-grabber-go/internal/api/handlers"
	"frame-grabber-go/internal/config"
	"frame-grabber-go/internal/services/shutdown"
	"frame-grabber-go/internal/services/source"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Version:             "test",
		GrabberID:           "container-test",
		ListenNetwork:       "tcp",
		ListenAddress:       "127.0.0.1:0",
		Greeting:            "connected",
		HTTPAddress:         "127.0.0.1:0",
		GRPCHealthAddress:   "127.0.0.1:0",
		BufferDir:           t.TempDir(),
		Source:              config.SourceSynthetic,
		SourceSerial:        "CT1",
		SyntheticWidth:      32,
		SyntheticHeight:     24,
		SyntheticFPS:        50,
		QueueCapacity:       8,
		QueueRetryInterval:  time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		WriteTimeout:        time.Second,
		FrameTimeout:        time.Second,
		JoinPollInterval:    time.Millisecond,
		JoinWarnAfter:       time.Second,
		RateWindow:          10,
		HealthCheckInterval: 10 * time.Millisecond,
		ShutdownTimeout:     5 * time.Second,
	}
}

func TestNewFrameSource(t *testing.T) {
	cfg := testConfig(t)
	src, err := NewFrameSource(cfg)
	require.NoError(t, err)
	assert.IsType(t, &source.Synthetic{}, src)
	assert.Equal(t, "CT1", src.Serial())

	cfg.Source = "pylon"
	_, err = NewFrameSource(cfg)
	assert.Error(t, err)
}

func TestContainerServesAndShutsDownOnClose(t *testing.T) {
	cfg := testConfig(t)
	coord := shutdown.New(context.Background(), time.Millisecond, time.Second)
	sc, err := NewServiceContainer(cfg, coord)
	require.NoError(t, err)
	require.NoError(t, sc.Start())

	conn, err := net.Dial("tcp", sc.CommandServer.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	read := func() string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSuffix(line, "\n")
	}

	assert.Equal(t, "connected", read())
	fmt.Fprint(conn, "framedonotify\nstream\n")
	assert.Equal(t, "error:device not open", read())
	assert.True(t, strings.HasPrefix(read(), "cap:"))

	resp, err := http.Get("http://" + sc.API.Addr().String() + "/status")
	require.NoError(t, err)
	var status handlers.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.Session.Streaming)
	assert.Equal(t, 1, status.Session.Subscribers)
	assert.Equal(t, 1, status.Connections)
	assert.Equal(t, 8, status.Queue.Capacity)

	fmt.Fprint(conn, "close\n")
	for {
		if line := read(); line == "Stop Command Received" {
			break
		}
	}

	select {
	case <-coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("close command did not stop the coordinator")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sc.Shutdown(ctx))
	assert.Equal(t, "close command", coord.Reason())
	assert.False(t, sc.Session.DeviceOpen())
}

func TestContainerPinsRelativeBufferDir(t *testing.T) {
	startDir := t.TempDir()
	chdir(t, startDir)
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.BufferDir = "frames"
	cfg.HTTPAddress = ""
	cfg.GRPCHealthAddress = ""
	coord := shutdown.New(context.Background(), time.Millisecond, time.Second)
	sc, err := NewServiceContainer(cfg, coord)
	require.NoError(t, err)
	require.NoError(t, sc.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sc.Shutdown(ctx)
	})

	chdir(t, t.TempDir())

	conn, err := net.Dial("tcp", sc.CommandServer.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	fmt.Fprint(conn, "open\nactivefile\n")
	for _, want := range []string{"Open Command Received", filepath.Join(wd, "frames", "Cam_CT1__32x24-")} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(line, want), "got %q, want prefix %q", line, want)
	}
	assert.True(t, filepath.IsAbs(sc.Session.BufferPath()))
}

func TestContainerStartFailsOnBusyAddress(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.ListenAddress = busy.Addr().String()
	coord := shutdown.New(context.Background(), time.Millisecond, time.Second)
	sc, err := NewServiceContainer(cfg, coord)
	require.NoError(t, err)

	assert.Error(t, sc.Start())
	assert.Empty(t, coord.Running())
}

// chdir mirrors testing.T.Chdir (go1.24+): it changes the working directory
// and restores the previous one when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
