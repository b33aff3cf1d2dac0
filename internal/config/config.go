package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultPort           = "8123"
	defaultUpstreamURL    = "http://localhost:3000"
	defaultAllowedOrigins = "localhost"
	defaultPendingTTL     = 5 * time.Second
)

type Config struct {
	port           string
	upstreamURL    *url.URL
	sentryDSN      string
	apiToken       string
	allowedOrigins []string
	pendingTTL     time.Duration
	sweepInterval  time.Duration
	otelEnabled    bool
	env            environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) UpstreamURL() *url.URL {
	copied := *c.upstreamURL
	return &copied
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) APIToken() string {
	return c.apiToken
}

func (c *Config) AllowedOrigins() []string {
	return append([]string(nil), c.allowedOrigins...)
}

func (c *Config) PendingTTL() time.Duration {
	return c.pendingTTL
}

func (c *Config) SweepInterval() time.Duration {
	return c.sweepInterval
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, upstream: %s, pendingTTL: %s, sweepInterval: %s, otel: %t, ...}",
		string(c.env), c.port, c.upstreamURL.Redacted(), c.pendingTTL, c.sweepInterval, c.otelEnabled,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidValue := func(key string, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("DRAMA_ENVIRONMENT")
	if !ok {
		return missingKey("DRAMA_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidValue("DRAMA_ENVIRONMENT", rawEnv)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return invalidValue("PORT", port)
	}

	rawUpstreamURL := os.Getenv("DRAMA_UPSTREAM_URL")
	sentryDSN := os.Getenv("SENTRY_DSN")
	apiToken := os.Getenv("DRAMA_API_TOKEN")

	if env == production || env == staging {
		if rawUpstreamURL == "" {
			return missingKey("DRAMA_UPSTREAM_URL")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	if rawUpstreamURL == "" {
		rawUpstreamURL = defaultUpstreamURL
	}
	upstreamURL, err := url.Parse(rawUpstreamURL)
	if err != nil || upstreamURL.Scheme == "" || upstreamURL.Host == "" {
		return invalidValue("DRAMA_UPSTREAM_URL", rawUpstreamURL)
	}

	rawAllowedOrigins := os.Getenv("DRAMA_ALLOWED_ORIGINS")
	if rawAllowedOrigins == "" {
		rawAllowedOrigins = defaultAllowedOrigins
	}
	allowedOrigins := make([]string, 0)
	for _, origin := range strings.Split(rawAllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedOrigins = append(allowedOrigins, origin)
		}
	}

	pendingTTL, err := durationFromEnv("DEDUP_PENDING_TTL", defaultPendingTTL)
	if err != nil {
		return Config{}, err
	}
	// The coalescing sweep runs as often as entries can expire unless told otherwise
	sweepInterval, err := durationFromEnv("DEDUP_SWEEP_INTERVAL", pendingTTL)
	if err != nil {
		return Config{}, err
	}

	otelEnabled := false
	if rawOTelEnabled := os.Getenv("OTEL_ENABLED"); rawOTelEnabled != "" {
		otelEnabled, err = strconv.ParseBool(rawOTelEnabled)
		if err != nil {
			return invalidValue("OTEL_ENABLED", rawOTelEnabled)
		}
	}

	return Config{
		port:           port,
		upstreamURL:    upstreamURL,
		sentryDSN:      sentryDSN,
		apiToken:       apiToken,
		allowedOrigins: allowedOrigins,
		pendingTTL:     pendingTTL,
		sweepInterval:  sweepInterval,
		otelEnabled:    otelEnabled,
		env:            env,
	}, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return duration, nil
}
