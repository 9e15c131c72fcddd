package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/config"
)

// Setup installs the console logger on stderr, optionally teed into extra writers.
func Setup(level string, extra ...io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	writers = append(writers, extra...)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("Invalid log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("grabber_id", cfg.GrabberID).Str("service", service).Logger()
}

func WithClient(base zerolog.Logger, clientID, peer string) zerolog.Logger {
	return base.With().Str("client_id", clientID).Str("peer", peer).Logger()
}
