package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
)

// NewReverseProxy forwards requests to upstream, keeping the incoming path and query
func NewReverseProxy(upstream *url.URL, transport http.RoundTripper) http.HandlerFunc {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			if errors.Is(err, context.Canceled) {
				logging.FromContext(ctx).InfoContext(ctx, "Upstream request cancelled", slog.String("error", err.Error()))
				writeErrorResponse(w, http.StatusBadGateway, "UPSTREAM_CANCELLED", "upstream request cancelled")
				return
			}

			reporting.Report(ctx, fmt.Errorf("failed to proxy request: %w", err), map[string]string{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			writeErrorResponse(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream unavailable")
		},
	}

	return proxy.ServeHTTP
}
