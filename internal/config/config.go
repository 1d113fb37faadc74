package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

const (
	defaultPort                  = "4300"
	defaultEnvironment           = "development"
	defaultDeskAPITimeout        = 30 * time.Second
	defaultWidgetSessionIdleTTL  = 30 * time.Minute
	defaultWidgetSweepInterval   = time.Minute
	defaultWidgetMaxSessions     = 10000
	defaultWidgetFollowUpstream  = false
	defaultWidgetRequestTimeout  = 45 * time.Second
	defaultWidgetShutdownTimeout = 15 * time.Second
)

type DeskAPIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type WidgetConfig struct {
	AllowedOrigins   []string
	WSAllowedOrigins []string
	SessionIdleTTL   time.Duration
	SweepInterval    time.Duration
	MaxSessions      int
	// FollowUpstream subscribes live sessions to backend pushes so replies
	// that arrive later reach widget clients without polling.
	FollowUpstream  bool
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type Config struct {
	Port        string
	Environment string
	DeskAPI     DeskAPIConfig
	Widget      WidgetConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		Environment: resolveEnvironment(),
		DeskAPI: DeskAPIConfig{
			BaseURL: strings.TrimSpace(os.Getenv("DESK_API_URL")),
			Token:   strings.TrimSpace(os.Getenv("DESK_API_TOKEN")),
		},
		Widget: WidgetConfig{
			AllowedOrigins:   parseList(os.Getenv("WIDGET_ALLOWED_ORIGINS")),
			WSAllowedOrigins: parseList(os.Getenv("WS_ALLOWED_ORIGINS")),
		},
	}
	if len(cfg.Widget.WSAllowedOrigins) == 0 {
		cfg.Widget.WSAllowedOrigins = cfg.Widget.AllowedOrigins
	}

	deskAPITimeout, err := parseDuration("DESK_API_TIMEOUT", defaultDeskAPITimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DeskAPI.Timeout = deskAPITimeout

	idleTTL, err := parseDuration("WIDGET_SESSION_IDLE_TTL", defaultWidgetSessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.SessionIdleTTL = idleTTL

	sweepInterval, err := parseDuration("WIDGET_SWEEP_INTERVAL", defaultWidgetSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.SweepInterval = sweepInterval

	maxSessions, err := parseInt("WIDGET_MAX_SESSIONS", defaultWidgetMaxSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.MaxSessions = maxSessions

	followUpstream, err := parseBool("WIDGET_FOLLOW_UPSTREAM", defaultWidgetFollowUpstream)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.FollowUpstream = followUpstream

	requestTimeout, err := parseDuration("WIDGET_REQUEST_TIMEOUT", defaultWidgetRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.RequestTimeout = requestTimeout

	shutdownTimeout, err := parseDuration("WIDGET_SHUTDOWN_TIMEOUT", defaultWidgetShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Widget.ShutdownTimeout = shutdownTimeout

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.DeskAPI.BaseURL == "" {
		return fmt.Errorf("DESK_API_URL is required")
	}
	parsed, err := url.Parse(c.DeskAPI.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("DESK_API_URL must be an absolute http(s) URL")
	}

	if c.Widget.SessionIdleTTL <= 0 {
		return fmt.Errorf("WIDGET_SESSION_IDLE_TTL must be greater than zero")
	}
	if c.Widget.SweepInterval <= 0 {
		return fmt.Errorf("WIDGET_SWEEP_INTERVAL must be greater than zero")
	}
	if c.Widget.SweepInterval > c.Widget.SessionIdleTTL {
		return fmt.Errorf("WIDGET_SWEEP_INTERVAL must not exceed WIDGET_SESSION_IDLE_TTL")
	}
	if c.Widget.MaxSessions <= 0 {
		return fmt.Errorf("WIDGET_MAX_SESSIONS must be greater than zero")
	}

	if c.Widget.FollowUpstream && c.DeskAPI.Token == "" {
		return fmt.Errorf("DESK_API_TOKEN is required when WIDGET_FOLLOW_UPSTREAM is enabled")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if len(c.Widget.AllowedOrigins) == 0 {
		return fmt.Errorf("WIDGET_ALLOWED_ORIGINS is required in non-development environments")
	}
	for _, origin := range c.Widget.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("WIDGET_ALLOWED_ORIGINS must not contain * in non-development environments")
		}
	}

	return nil
}

// IsDevelopment reports whether the gateway runs in a local/dev environment.
func (c Config) IsDevelopment() bool {
	return !isNonDevelopment(c.Environment)
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
