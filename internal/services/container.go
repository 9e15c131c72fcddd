package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/api"
	"frame-grabber-go/internal/config"
	"frame-grabber-go/internal/logging"
	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/acquisition"
	"frame-grabber-go/internal/services/control"
	"frame-grabber-go/internal/services/health"
	"frame-grabber-go/internal/services/messaging"
	"frame-grabber-go/internal/services/registry"
	"frame-grabber-go/internal/services/session"
	"frame-grabber-go/internal/services/shutdown"
	"frame-grabber-go/internal/services/source"
	"frame-grabber-go/internal/services/source/opencv"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config      *config.Config
	Coordinator *shutdown.Coordinator

	Source        source.FrameSource
	Registry      *registry.Registry
	Queue         *control.Queue
	CommandServer *control.Server
	Session       *session.Session
	Dispatcher    *session.Dispatcher

	// optional surfaces, nil when disabled
	Events messaging.Fanout
	Health *health.Service
	API    *api.Server
}

// NewServiceContainer creates a new service container
func NewServiceContainer(cfg *config.Config, coord *shutdown.Coordinator) (*ServiceContainer, error) {
	src, err := NewFrameSource(cfg)
	if err != nil {
		return nil, err
	}

	// pinned at startup so a later working directory change cannot move the buffer
	bufferDir, err := cfg.AbsBufferDir()
	if err != nil {
		return nil, fmt.Errorf("resolve buffer dir %q: %w", cfg.BufferDir, err)
	}

	reg := registry.New()
	queue := control.NewQueue(cfg.QueueCapacity, cfg.QueueRetryInterval)
	sess := session.New(cfg.GrabberID, reg)

	server := control.NewServer(control.Options{
		Network:      cfg.ListenNetwork,
		Address:      cfg.ListenAddress,
		Greeting:     cfg.Greeting,
		PollInterval: cfg.PollInterval,
		WriteTimeout: cfg.WriteTimeout,
	}, queue, logging.NewServiceLogger(cfg, "control"))

	dispatcher := session.NewDispatcher(queue, sess, src, coord.Stop, session.Options{
		BufferDir:    bufferDir,
		PollInterval: cfg.PollInterval,
		Acquisition: acquisition.Options{
			GrabberID:        cfg.GrabberID,
			FrameTimeout:     cfg.FrameTimeout,
			RateWindow:       cfg.RateWindow,
			JoinPollInterval: cfg.JoinPollInterval,
			JoinWarnAfter:    cfg.JoinWarnAfter,
		},
	}, logging.NewServiceLogger(cfg, "dispatcher"))

	sc := &ServiceContainer{
		Config:        cfg,
		Coordinator:   coord,
		Source:        src,
		Registry:      reg,
		Queue:         queue,
		CommandServer: server,
		Session:       sess,
		Dispatcher:    dispatcher,
	}

	// events are an add-on, the protocol keeps working without a broker
	if cfg.NatsEnabled {
		if msg, err := messaging.NewService(cfg); err != nil {
			log.Error().Err(err).Str("url", cfg.NatsURL).Msg("NATS unavailable, NATS events disabled")
		} else {
			sc.Events = append(sc.Events, msg)
		}
	}
	if cfg.MqttEnabled {
		if pub, err := messaging.NewMQTTPublisher(cfg); err != nil {
			log.Error().Err(err).Str("broker", cfg.MqttBroker).Msg("MQTT unavailable, MQTT events disabled")
		} else {
			sc.Events = append(sc.Events, pub)
		}
	}
	if len(sc.Events) > 0 {
		dispatcher.SetSinks(sc.Events, sc.Events)
	}

	if cfg.GRPCHealthAddress != "" {
		sc.Health = health.NewService(cfg.GRPCHealthAddress, cfg.HealthCheckInterval, sess, logging.NewServiceLogger(cfg, "health"))
	}

	if cfg.HTTPAddress != "" {
		sc.API = api.NewServer(cfg, api.Deps{
			Session:  sess,
			Stats:    pipelineStats{queue: queue, server: server, dispatcher: dispatcher},
			Registry: reg,
		})
	}

	return sc, nil
}

// NewFrameSource builds the configured device adapter.
func NewFrameSource(cfg *config.Config) (source.FrameSource, error) {
	switch cfg.Source {
	case config.SourceSynthetic:
		return source.NewSynthetic(source.SyntheticConfig{
			Serial:   cfg.SourceSerial,
			Geometry: models.Geometry{Width: cfg.SyntheticWidth, Height: cfg.SyntheticHeight},
			Interval: time.Second / time.Duration(cfg.SyntheticFPS),
		}), nil
	case config.SourceOpenCV:
		return opencv.New(cfg.SourceDevice, cfg.SourceSerial), nil
	default:
		return nil, fmt.Errorf("unknown frame source %q", cfg.Source)
	}
}

// Start binds every listener first so a bad address fails before anything
// runs, then launches the loops under the coordinator.
func (sc *ServiceContainer) Start() error {
	if err := sc.CommandServer.Listen(); err != nil {
		return err
	}
	if sc.Health != nil {
		if err := sc.Health.Listen(); err != nil {
			return err
		}
	}
	if sc.API != nil {
		if err := sc.API.Listen(); err != nil {
			return err
		}
	}

	sc.Coordinator.Go("dispatcher", sc.Dispatcher.Run)
	sc.Coordinator.Go("command-server", sc.CommandServer.Serve)
	if sc.Health != nil {
		sc.Coordinator.Go("grpc-health", sc.Health.Run)
	}
	if sc.API != nil {
		sc.Coordinator.Go("http-api", sc.API.Run)
	}

	log.Info().
		Str("listen", sc.CommandServer.Addr().String()).
		Str("source", sc.Config.Source).
		Int("event_backends", len(sc.Events)).
		Bool("grpc_health", sc.Health != nil).
		Bool("http_api", sc.API != nil).
		Msg("Frame grabber started")
	return nil
}

// Shutdown stops every loop, joins them within ctx's deadline and closes
// the event connection.
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.Coordinator.Stop("shutdown")
	sc.Queue.Close()

	timeout := sc.Config.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	err := sc.Coordinator.Wait(timeout)

	if len(sc.Events) > 0 {
		if shutdownErr := sc.Events.Shutdown(ctx); shutdownErr != nil {
			log.Warn().Err(shutdownErr).Msg("Event backends did not close cleanly")
		}
	}
	return err
}

// pipelineStats adapts the control plane to the status endpoint.
type pipelineStats struct {
	queue      *control.Queue
	server     *control.Server
	dispatcher *session.Dispatcher
}

func (p pipelineStats) QueueDepth() int           { return p.queue.Len() }
func (p pipelineStats) QueueCapacity() int        { return p.queue.Cap() }
func (p pipelineStats) QueueRetries() uint64      { return p.queue.Retries() }
func (p pipelineStats) Connections() int          { return p.server.Connections() }
func (p pipelineStats) CommandsProcessed() uint64 { return p.dispatcher.Processed() }
