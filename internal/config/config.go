// Package config loads the relay service configuration from environment
// variables with command-line flag overrides.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "PAIRMEET_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "PAIRMEET_RELAY_ALLOWED_ORIGINS"
	envVarMode            = "PAIRMEET_RELAY_MODE"
	envVarLogFormat       = "PAIRMEET_RELAY_LOG_FORMAT"
	envVarLogLevel        = "PAIRMEET_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "PAIRMEET_RELAY_SHUTDOWN_TIMEOUT"

	// Per-connection signaling hardening.
	envVarWSIdleTimeout        = "PAIRMEET_RELAY_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "PAIRMEET_RELAY_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "PAIRMEET_RELAY_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "PAIRMEET_RELAY_MAX_MESSAGES_PER_SECOND"
	envVarSendQueueSize        = "PAIRMEET_RELAY_SEND_QUEUE_SIZE"

	// ICE configuration served to participants on GET /ice.
	envVarSTUNURLs             = "PAIRMEET_RELAY_STUN_URLS"
	envVarTURNURLs             = "PAIRMEET_RELAY_TURN_URLS"
	envVarTURNRESTSharedSecret = "PAIRMEET_RELAY_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL          = "PAIRMEET_RELAY_TURN_REST_TTL"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 64
	DefaultMode                 = ModeDev
	DefaultTURNRESTTTL          = time.Hour
)

type Config struct {
	ListenAddr string

	// AllowedOrigins restricts which browser origins may connect. Empty means
	// any origin is accepted, which is the intended dev posture; production
	// deployments should set an explicit allow-list.
	AllowedOrigins []string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// WSIdleTimeout is how long a connection may go without any inbound frame
	// (including pongs) before the relay drops it. WSPingInterval must be
	// shorter so healthy-but-quiet clients keep the connection alive.
	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueueSize is the per-connection outbound buffer in messages. A peer
	// that cannot drain its queue has notifications dropped rather than
	// blocking the sender's event processing.
	SendQueueSize int

	// STUNURLs and TURNURLs are advertised to participants over GET /ice.
	// When TURNRESTSharedSecret is set, TURN entries are served with ephemeral
	// coturn REST credentials valid for TURNRESTTTL.
	STUNURLs             []string
	TURNURLs             []string
	TURNRESTSharedSecret string
	TURNRESTTTL          time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	mode := Mode(strings.ToLower(envOrDefault(lookup, envVarMode, string(DefaultMode))))
	switch mode {
	case ModeDev, ModeProd:
	case "production":
		mode = ModeProd
	default:
		return Config{}, fmt.Errorf("invalid %s %q", envVarMode, mode)
	}

	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		Mode:            mode,
		ShutdownTimeout: DefaultShutdownTimeout,
		WSIdleTimeout:   DefaultWSIdleTimeout,
		WSPingInterval:  DefaultWSPingInterval,

		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SendQueueSize:        DefaultSendQueueSize,
	}

	cfg.AllowedOrigins = splitCommaList(envOrDefault(lookup, envVarAllowedOrigins, ""))

	logFormat := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode))
	logLevel := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode))

	var err error
	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, cfg.WSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, cfg.WSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageBytes, err = envInt64OrDefault(lookup, envVarMaxMessageBytes, cfg.MaxMessageBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, cfg.MaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize, err = envIntOrDefault(lookup, envVarSendQueueSize, cfg.SendQueueSize); err != nil {
		return Config{}, err
	}

	cfg.STUNURLs = splitCommaList(envOrDefault(lookup, envVarSTUNURLs, ""))
	cfg.TURNURLs = splitCommaList(envOrDefault(lookup, envVarTURNURLs, ""))
	cfg.TURNRESTSharedSecret = envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	cfg.TURNRESTTTL = DefaultTURNRESTTTL
	if cfg.TURNRESTTTL, err = envDurationOrDefault(lookup, envVarTURNRESTTTL, cfg.TURNRESTTTL); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("pairmeet-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP address the relay listens on")
	allowedOrigins := fs.String("allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "comma-separated browser origin allow-list (empty allows any origin)")
	fs.StringVar(&logFormat, "log-format", logFormat, "log output format: text or json")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn or error")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = splitCommaList(*allowedOrigins)

	switch LogFormat(strings.ToLower(logFormat)) {
	case LogFormatText:
		cfg.LogFormat = LogFormatText
	case LogFormatJSON:
		cfg.LogFormat = LogFormatJSON
	default:
		return Config{}, fmt.Errorf("invalid log format %q", logFormat)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.WSIdleTimeout <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envVarWSIdleTimeout)
	}
	if c.WSPingInterval <= 0 || c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("invalid %s: must be positive and shorter than the idle timeout", envVarWSPingInterval)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envVarMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envVarMaxMessagesPerSecond)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envVarSendQueueSize)
	}
	if len(c.TURNURLs) > 0 && c.TURNRESTSharedSecret == "" {
		return fmt.Errorf("%s must be set when %s is set", envVarTURNRESTSharedSecret, envVarTURNURLs)
	}
	if c.TURNRESTSharedSecret != "" && c.TURNRESTTTL <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envVarTURNRESTTTL)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}
