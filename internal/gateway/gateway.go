// Package gateway serves the drama API through a reverse proxy that coalesces
// concurrent identical reads into a single upstream request.
package gateway

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/ratelimiting"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
)

type Options struct {
	Deduplicator     *dedup.Deduplicator
	Upstream         *url.URL
	Transport        http.RoundTripper
	AllowedOrigins   *DomainSuffixes
	RootLogger       *slog.Logger
	SentryMiddleware func(http.HandlerFunc) http.HandlerFunc
	NowFunc          func() time.Time

	// Responses above this size are not shared between requests.
	// Defaults to DefaultMaxBufferedBytes
	MaxBufferedBytes int

	// Per-IP token bucket for proxied requests
	RefillPerSecond ratelimiting.RefillPerSecond
	BurstSize       ratelimiting.BurstSize
}

// NewHandler builds the gateway routes. The returned func stops background
// work owned by the handler.
func NewHandler(opts Options) (http.Handler, func()) {
	if opts.NowFunc == nil {
		opts.NowFunc = time.Now
	}
	if opts.SentryMiddleware == nil {
		opts.SentryMiddleware = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	if opts.RefillPerSecond <= 0 {
		opts.RefillPerSecond = 20
	}
	if opts.BurstSize <= 0 {
		opts.BurstSize = 200
	}

	ipLimiter, stopLimiter := ratelimiting.NewTokenBucketRateLimiter(
		opts.RefillPerSecond,
		opts.BurstSize,
		opts.NowFunc,
	)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	proxyMiddleware := ComposeMiddlewares(
		buildMetricsMiddleware("proxy"),
		logging.NewRequestLoggerMiddleware(opts.RootLogger.With("component", "proxy")),
		opts.SentryMiddleware,
		reporting.NewAddMetaMiddleware("proxy"),
		BuildCORSMiddleware(opts.AllowedOrigins),
		NewRateLimitMiddleware(ipRateLimiter),
		NewCoalescingMiddleware(opts.Deduplicator, CoalescingKey, opts.MaxBufferedBytes),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /debug/dedup", ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(opts.RootLogger.With("component", "debug")),
		opts.SentryMiddleware,
		reporting.NewAddMetaMiddleware("debug"),
	)(MakeDedupStatsHandler(opts.Deduplicator)))
	mux.HandleFunc("OPTIONS /", BuildCORSHandler(opts.AllowedOrigins))
	mux.HandleFunc("/", proxyMiddleware(NewReverseProxy(opts.Upstream, opts.Transport)))

	return mux, stopLimiter
}
