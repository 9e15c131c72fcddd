package logging

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/logdyhq/logdy-core/logdy"
	"github.com/rs/zerolog/log"
)

// logdyWriter receives the raw zerolog JSON lines, Logdy parses them into columns.
type logdyWriter struct {
	ui logdy.Logdy
}

func (w *logdyWriter) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	if len(line) > 0 {
		w.ui.LogString(string(line))
	}
	return len(p), nil
}

// StartLogdy starts the embedded Logdy UI on host:port and returns a writer
// for Setup to tee into.
func StartLogdy(host string, port int) (io.Writer, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid logdy port %d", port)
	}
	portStr := strconv.Itoa(port)
	ui := logdy.InitializeLogdy(logdy.Config{
		ServerIp:   host,
		ServerPort: portStr,
	}, nil)

	log.Info().Str("url", fmt.Sprintf("http://%s:%s", host, portStr)).Msg("Logdy UI available")
	return &logdyWriter{ui: ui}, nil
}
