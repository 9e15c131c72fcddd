package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	SourceSynthetic = "synthetic"
	SourceOpenCV    = "opencv"
)

type Config struct {
	// Application
	Version   string
	GrabberID string
	LogLevel  string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Command protocol
	ListenNetwork string // "tcp" or "unix"
	ListenAddress string
	Greeting      string

	// Side surfaces, empty address disables the surface
	HTTPAddress       string
	GRPCHealthAddress string

	// Shared frame buffer
	BufferDir string

	// Frame source
	Source          string
	SourceDevice    string
	SourceSerial    string
	SyntheticWidth  int
	SyntheticHeight int
	SyntheticFPS    int

	// Hand-off queue between client handlers and the dispatcher
	QueueCapacity      int
	QueueRetryInterval time.Duration

	// Loop timing
	PollInterval     time.Duration // handler read poll, accept poll, dispatcher wake
	WriteTimeout     time.Duration // replies and frame notifications
	FrameTimeout     time.Duration // NextFrame bound, a timeout ends the acquisition loop
	JoinPollInterval time.Duration
	JoinWarnAfter    time.Duration
	RateWindow       int

	// NATS (frame and session events)
	NatsEnabled        bool
	NatsURL            string
	NatsSubjectPrefix  string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int

	// MQTT (same events, for broker-based dashboards)
	MqttEnabled        bool
	MqttBroker         string
	MqttTopicPrefix    string
	MqttQoS            int
	MqttConnectTimeout time.Duration

	// Health Check
	HealthCheckInterval time.Duration

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		Version:   getEnv("VERSION", "1.0.0"),
		GrabberID: getEnv("GRABBER_ID", "grabber-1"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// 0xFC4D
		ListenNetwork: getEnv("LISTEN_NETWORK", "tcp"),
		ListenAddress: getEnv("LISTEN_ADDRESS", "127.0.0.1:64589"),
		Greeting:      getEnv("GREETING", "connected"),

		HTTPAddress:       getEnv("HTTP_ADDRESS", "127.0.0.1:8000"),
		GRPCHealthAddress: getEnv("GRPC_HEALTH_ADDRESS", "127.0.0.1:64590"),

		BufferDir: getEnv("BUFFER_DIR", "."),

		Source:          getEnv("SOURCE", SourceSynthetic),
		SourceDevice:    getEnv("SOURCE_DEVICE", "0"),
		SourceSerial:    getEnv("SOURCE_SERIAL", ""),
		SyntheticWidth:  getEnvInt("SYNTHETIC_WIDTH", 640),
		SyntheticHeight: getEnvInt("SYNTHETIC_HEIGHT", 480),
		SyntheticFPS:    getEnvInt("SYNTHETIC_FPS", 30),

		QueueCapacity:      getEnvInt("QUEUE_CAPACITY", 64),
		QueueRetryInterval: getEnvDuration("QUEUE_RETRY_INTERVAL", 10*time.Millisecond),

		PollInterval:     getEnvDuration("POLL_INTERVAL", 10*time.Millisecond),
		WriteTimeout:     getEnvDuration("WRITE_TIMEOUT", 250*time.Millisecond),
		FrameTimeout:     getEnvDuration("FRAME_TIMEOUT", 5*time.Second),
		JoinPollInterval: getEnvDuration("JOIN_POLL_INTERVAL", 10*time.Millisecond),
		JoinWarnAfter:    getEnvDuration("JOIN_WARN_AFTER", 2*time.Second),
		RateWindow:       getEnvInt("RATE_WINDOW", 10),

		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsSubjectPrefix:  getEnv("NATS_SUBJECT_PREFIX", "grabber"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited

		MqttEnabled:        getEnvBool("MQTT_ENABLED", false),
		MqttBroker:         getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MqttTopicPrefix:    getEnv("MQTT_TOPIC_PREFIX", "grabber"),
		MqttQoS:            getEnvInt("MQTT_QOS", 0),
		MqttConnectTimeout: getEnvDuration("MQTT_CONNECT_TIMEOUT", 5*time.Second),

		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.ListenNetwork {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("unsupported listen network %q", c.ListenNetwork)
	}
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Source {
	case SourceSynthetic, SourceOpenCV:
	default:
		return fmt.Errorf("unknown frame source %q", c.Source)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.RateWindow < 2 {
		return fmt.Errorf("rate window must hold at least 2 intervals, got %d", c.RateWindow)
	}
	if c.PollInterval <= 0 || c.FrameTimeout <= 0 || c.JoinPollInterval <= 0 {
		return fmt.Errorf("poll interval, frame timeout and join poll interval must be positive")
	}
	if c.MqttQoS < 0 || c.MqttQoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MqttQoS)
	}
	if c.Source == SourceSynthetic && (c.SyntheticWidth <= 0 || c.SyntheticHeight <= 0 || c.SyntheticFPS <= 0) {
		return fmt.Errorf("invalid synthetic geometry %dx%d@%d", c.SyntheticWidth, c.SyntheticHeight, c.SyntheticFPS)
	}
	return nil
}

// AbsBufferDir resolves the buffer directory so replies always carry absolute paths.
func (c *Config) AbsBufferDir() (string, error) {
	return filepath.Abs(c.BufferDir)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
