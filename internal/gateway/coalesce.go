package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/strutils"
)

// DedupHeader tells the client whether its request ran the handler (miss) or
// received the response of an identical in-flight request (shared)
const DedupHeader = "X-Dedup"

type recordedResponse struct {
	status int
	header http.Header
	body   []byte
}

// DefaultMaxBufferedBytes bounds how much of a response is held in memory for replay
const DefaultMaxBufferedBytes = 4 << 20

// errNotBufferable means the response is too large or streamed, so it has to
// be served to each request on its own
var errNotBufferable = errors.New("response can't be buffered for sharing")

// responseBuffer captures a handler's response so it can be replayed to every waiter
type responseBuffer struct {
	header       http.Header
	status       int
	wroteHeader  bool
	body         bytes.Buffer
	maxBytes     int
	unbufferable bool
}

func newResponseBuffer(maxBytes int) *responseBuffer {
	return &responseBuffer{header: make(http.Header), maxBytes: maxBytes}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(statusCode int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = statusCode

	if strings.HasPrefix(b.header.Get("Content-Type"), "text/event-stream") {
		b.unbufferable = true
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	if b.unbufferable {
		return 0, errNotBufferable
	}
	if b.body.Len()+len(p) > b.maxBytes {
		b.unbufferable = true
		b.body.Reset()
		return 0, errNotBufferable
	}
	return b.body.Write(p)
}

func (b *responseBuffer) result() *recordedResponse {
	status := b.status
	if !b.wroteHeader {
		status = http.StatusOK
	}
	return &recordedResponse{
		status: status,
		header: b.header.Clone(),
		body:   bytes.Clone(b.body.Bytes()),
	}
}

func (r *recordedResponse) writeTo(w http.ResponseWriter, outcome string) {
	for name, values := range r.header {
		w.Header()[name] = slices.Clone(values)
	}
	w.Header().Set(DedupHeader, outcome)
	w.WriteHeader(r.status)
	w.Write(r.body)
}

// CoalescingKey identifies requests that must produce the same response.
// Credentials are hashed so they never end up in logs or metrics.
func CoalescingKey(r *http.Request) string {
	return fmt.Sprintf(
		"%s|user=%s|auth=%s|cookie=%s|accept=%s|encoding=%s",
		strutils.RequestKey(r.Method, r.URL.Path, r.URL.Query()),
		r.Header.Get("X-User-Id"),
		strutils.HashSecret(r.Header.Get("Authorization")),
		strutils.HashSecret(r.Header.Get("Cookie")),
		r.Header.Get("Accept"),
		r.Header.Get("Accept-Encoding"),
	)
}

func isCoalescable(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	// Streams and partial downloads are served per request
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.Header.Get("Range") != "" {
		return false
	}
	return true
}

// NewCoalescingMiddleware runs the wrapped handler once for concurrent
// identical GET and HEAD requests and replays the recorded response to all of
// them. Other methods pass through.
//
// The handler runs with a context that is not cancelled when the request that
// started it goes away, since other requests may be waiting on it.
//
// Responses larger than maxBufferedBytes, and event streams, are not shared.
// Every waiting request then runs the handler itself.
func NewCoalescingMiddleware(d *dedup.Deduplicator, keyFunc func(*http.Request) string, maxBufferedBytes int) func(http.HandlerFunc) http.HandlerFunc {
	if keyFunc == nil {
		keyFunc = CoalescingKey
	}
	if maxBufferedBytes <= 0 {
		maxBufferedBytes = DefaultMaxBufferedBytes
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !isCoalescable(r) {
				next(w, r)
				return
			}

			ctx := r.Context()

			var produced atomic.Bool
			response, err := dedup.Execute(ctx, d, keyFunc(r), func(ctx context.Context) (response *recordedResponse, err error) {
				produced.Store(true)
				buffer := newResponseBuffer(maxBufferedBytes)
				defer func() {
					if !buffer.unbufferable {
						return
					}
					// The proxy aborts when its body copy fails
					if recovered := recover(); recovered != nil && recovered != http.ErrAbortHandler {
						panic(recovered)
					}
					response, err = nil, errNotBufferable
				}()
				next(buffer, r.WithContext(ctx))
				return buffer.result(), nil
			})
			if errors.Is(err, errNotBufferable) {
				logging.FromContext(ctx).InfoContext(ctx, "Response can't be shared, serving request directly")
				w.Header().Set(DedupHeader, "bypass")
				next(w, r)
				return
			}
			if err != nil {
				handleCoalescingError(ctx, w, err)
				return
			}

			outcome := "shared"
			if produced.Load() {
				outcome = "miss"
			}
			response.writeTo(w, outcome)
		}
	}
}

func handleCoalescingError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.InfoContext(ctx, "Request abandoned while waiting for response", slog.String("error", err.Error()))
		// Status is never seen by the client, but shows up in logs and metrics
		w.WriteHeader(499)
		return
	}

	if errors.Is(err, http.ErrAbortHandler) {
		// Upstream body copy failed after the headers were sent
		logger.WarnContext(ctx, "Shared handler aborted", slog.String("error", err.Error()))
		writeErrorResponse(w, http.StatusBadGateway, "UPSTREAM_ABORTED", "upstream response was interrupted")
		return
	}

	reporting.Report(ctx, fmt.Errorf("coalesced handler failed: %w", err))
	writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
}
