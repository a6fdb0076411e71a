// Package config loads the agent's configuration from environment variables
// and flags. Env values become flag defaults, so flags always win.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/auth"
)

const (
	envVarServerURL     = "SCREENLINK_SERVER_URL"
	envVarUserID        = "SCREENLINK_USER_ID"
	envVarToken         = "SCREENLINK_TOKEN"
	envVarTokenFile     = "SCREENLINK_TOKEN_FILE"
	envVarPollInterval  = "SCREENLINK_POLL_INTERVAL"
	envVarPollJitter    = "SCREENLINK_POLL_JITTER"
	envVarLogFormat     = "SCREENLINK_LOG_FORMAT"
	envVarLogLevel      = "SCREENLINK_LOG_LEVEL"
	envVarMode          = "SCREENLINK_MODE"
	envVarMetricsListen = "SCREENLINK_METRICS_LISTEN_ADDR"

	DefaultPollInterval = 1 * time.Second
	DefaultPollJitter   = 0 * time.Second
	DefaultMode         = ModeDev
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

type Config struct {
	// ServerURL is the base URL of the relay and access-control service.
	ServerURL string
	// UserID is this client's identity, used for addressing and glare
	// resolution.
	UserID string
	// Token and TokenFile are mutually exclusive credential sources.
	Token     string
	TokenFile string

	PollInterval time.Duration
	PollJitter   time.Duration

	LogFormat LogFormat
	LogLevel  slog.Level
	Mode      Mode

	// MetricsListenAddr enables the debug counters endpoint when non-empty.
	MetricsListenAddr string

	ICEServers []webrtc.ICEServer
}

// Credentials builds the auth source the configuration selects.
func (c Config) Credentials() auth.Source {
	if c.TokenFile != "" {
		return &auth.FileSource{Path: c.TokenFile}
	}
	return auth.Static(c.Token)
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	serverURL := envOrDefault(lookup, envVarServerURL, "")
	userID := envOrDefault(lookup, envVarUserID, "")
	token := envOrDefault(lookup, envVarToken, "")
	tokenFile := envOrDefault(lookup, envVarTokenFile, "")
	metricsListen := envOrDefault(lookup, envVarMetricsListen, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	pollInterval := DefaultPollInterval
	if raw, ok := lookup(envVarPollInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPollInterval, raw, err)
		}
		pollInterval = d
	}

	pollJitter := DefaultPollJitter
	if raw, ok := lookup(envVarPollJitter); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPollJitter, raw, err)
		}
		pollJitter = d
	}

	fs := flag.NewFlagSet("screenlink-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&serverURL, "server-url", serverURL, "Base URL of the relay service (env "+envVarServerURL+")")
	fs.StringVar(&userID, "user-id", userID, "This client's user id (env "+envVarUserID+")")
	fs.StringVar(&token, "token", token, "Bearer token (env "+envVarToken+")")
	fs.StringVar(&tokenFile, "token-file", tokenFile, "File holding the bearer token; reloadable (env "+envVarTokenFile+")")
	fs.DurationVar(&pollInterval, "poll-interval", pollInterval, "Inbox poll interval (env "+envVarPollInterval+")")
	fs.DurationVar(&pollJitter, "poll-jitter", pollJitter, "Extra random delay added to each poll sleep (env "+envVarPollJitter+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&metricsListen, "metrics-listen-addr", metricsListen, "Debug counters listen address; empty disables (env "+envVarMetricsListen+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(serverURL) == "" {
		return Config{}, fmt.Errorf("%s/--server-url must be set", envVarServerURL)
	}
	if strings.TrimSpace(userID) == "" {
		return Config{}, fmt.Errorf("%s/--user-id must be set", envVarUserID)
	}
	if token != "" && tokenFile != "" {
		return Config{}, fmt.Errorf("%s and %s are mutually exclusive", envVarToken, envVarTokenFile)
	}
	if token == "" && tokenFile == "" {
		return Config{}, fmt.Errorf("one of %s or %s must be set", envVarToken, envVarTokenFile)
	}
	if pollInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--poll-interval must be > 0", envVarPollInterval)
	}
	if pollJitter < 0 {
		return Config{}, fmt.Errorf("%s/--poll-jitter must be >= 0", envVarPollJitter)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers()
	}

	return Config{
		ServerURL:         strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		UserID:            strings.TrimSpace(userID),
		Token:             token,
		TokenFile:         tokenFile,
		PollInterval:      pollInterval,
		PollJitter:        pollJitter,
		LogFormat:         logFormat,
		LogLevel:          level,
		Mode:              mode,
		MetricsListenAddr: metricsListen,
		ICEServers:        iceServers,
	}, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func defaultLogFormatForMode(mode string) string {
	if mode == string(ModeProd) {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if mode == string(ModeProd) {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", raw)
	}
}

// NewLogger builds the process logger for the configured format and level.
func NewLogger(cfg Config, w *os.File) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
