package dedup

import "time"

type Config struct {
	// Name identifies the instance in metrics and logs
	Name string

	// CacheEnabled keeps successful results around for DefaultCacheTTL (or the
	// per-call TTL) so repeated calls skip the producer entirely
	CacheEnabled    bool
	DefaultCacheTTL time.Duration

	// MaxCachedEntries bounds the result cache. 0 means unbounded
	MaxCachedEntries uint64

	// PendingTTL is how long an in-flight call may be joined by new callers.
	// Older calls are presumed abandoned and are not joined
	PendingTTL    time.Duration
	SweepInterval time.Duration
}

// ClientConfig is the configuration used in front of API calls made on behalf of a user
func ClientConfig() Config {
	return Config{
		Name:            "client",
		CacheEnabled:    true,
		DefaultCacheTTL: 30 * time.Second,
		PendingTTL:      10 * time.Second,
		SweepInterval:   60 * time.Second,
	}
}

// ServerConfig is the configuration used to coalesce identical incoming requests.
// Results are never cached, only shared between concurrent callers
func ServerConfig() Config {
	return Config{
		Name:          "server",
		CacheEnabled:  false,
		PendingTTL:    5 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 10 * time.Second
	}
	if c.CacheEnabled && c.DefaultCacheTTL <= 0 {
		c.DefaultCacheTTL = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.PendingTTL
	}
	return c
}

type executeSettings struct {
	cache    bool
	cacheTTL time.Duration
}

type ExecuteOption func(*executeSettings)

// WithCache enables or disables the result cache for a single call.
// Has no effect when the Deduplicator was created without a cache
func WithCache(enabled bool) ExecuteOption {
	return func(s *executeSettings) {
		s.cache = enabled
	}
}

func WithCacheTTL(ttl time.Duration) ExecuteOption {
	return func(s *executeSettings) {
		s.cacheTTL = ttl
	}
}
