package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/domain"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/strutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const userAgent = "drama-client/1.0"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type pageQuery struct {
	page     int
	pageSize int
}

func (q pageQuery) values() url.Values {
	return url.Values{
		"page":     []string{strconv.Itoa(q.page)},
		"pageSize": []string{strconv.Itoa(q.pageSize)},
	}
}

// Client talks to the drama API. Reads are deduplicated and cached by the
// given Deduplicator, writes invalidate the cached reads they affect.
type Client struct {
	httpClient HttpClient
	baseURL    *url.URL
	token      string
	limiter    *rate.Limiter
	dedup      *dedup.Deduplicator
	tracer     trace.Tracer

	listProjects    func(context.Context, pageQuery) (domain.Page[domain.Project], error)
	getProject      func(context.Context, string) (domain.Project, error)
	listStoryboards func(context.Context, string) ([]domain.Storyboard, error)
	listAssets      func(context.Context, string) ([]domain.Asset, error)
	listTeamMembers func(context.Context, string) ([]domain.TeamMember, error)
}

func NewClient(httpClient HttpClient, baseURL *url.URL, token string, d *dedup.Deduplicator, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		limiter:    limiter,
		dedup:      d,
		tracer:     otel.Tracer("drama/apiclient"),
	}

	c.listProjects = dedup.WrapFetch(d,
		func(q pageQuery) string { return strutils.RequestKey(http.MethodGet, "/projects", q.values()) },
		func(ctx context.Context, q pageQuery) (domain.Page[domain.Project], error) {
			return request[domain.Page[domain.Project]](ctx, c, http.MethodGet, "/projects", q.values(), nil)
		},
	)
	c.getProject = dedup.WrapFetch(d,
		func(id string) string { return strutils.RequestKey(http.MethodGet, projectPath(id), nil) },
		func(ctx context.Context, id string) (domain.Project, error) {
			return request[domain.Project](ctx, c, http.MethodGet, projectPath(id), nil, nil)
		},
	)
	c.listStoryboards = dedup.WrapFetch(d,
		func(projectID string) string {
			return strutils.RequestKey(http.MethodGet, projectPath(projectID)+"/storyboards", nil)
		},
		func(ctx context.Context, projectID string) ([]domain.Storyboard, error) {
			return request[[]domain.Storyboard](ctx, c, http.MethodGet, projectPath(projectID)+"/storyboards", nil, nil)
		},
	)
	c.listAssets = dedup.WrapFetch(d,
		func(projectID string) string {
			return strutils.RequestKey(http.MethodGet, projectPath(projectID)+"/assets", nil)
		},
		func(ctx context.Context, projectID string) ([]domain.Asset, error) {
			return request[[]domain.Asset](ctx, c, http.MethodGet, projectPath(projectID)+"/assets", nil, nil)
		},
	)
	c.listTeamMembers = dedup.WrapFetch(d,
		func(projectID string) string {
			return strutils.RequestKey(http.MethodGet, projectPath(projectID)+"/members", nil)
		},
		func(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
			return request[[]domain.TeamMember](ctx, c, http.MethodGet, projectPath(projectID)+"/members", nil, nil)
		},
	)

	return c
}

func projectPath(id string) string {
	return "/projects/" + url.PathEscape(id)
}

// ClearCache drops every cached read, e.g. when the user logs out
func (c *Client) ClearCache() {
	c.dedup.Clear()
}

func (c *Client) send(ctx context.Context, method string, path string, query url.Values, body any) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "apiclient.request", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, "rate limit wait failed")
		return 0, nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, "failed to read body")
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp.StatusCode, data, nil
}

// request runs once per shared invocation, so failures are reported once no
// matter how many callers joined
func request[T any](ctx context.Context, c *Client, method string, path string, query url.Values, body any) (T, error) {
	statusCode, data, err := c.send(ctx, method, path, query, body)
	if err != nil {
		var zero T
		reporting.Report(ctx, err, map[string]string{"method": method, "path": path})
		return zero, err
	}

	result, err := decodeEnvelope[T](statusCode, data)
	if err != nil {
		if isCallerError(err) {
			logging.FromContext(ctx).InfoContext(ctx, "Request rejected by upstream",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", statusCode),
			)
			return result, err
		}
		reporting.Report(ctx, err, map[string]string{
			"method": method,
			"path":   path,
			"status": strconv.Itoa(statusCode),
			"data":   string(data),
		})
		return result, err
	}

	return result, nil
}
