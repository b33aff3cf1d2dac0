package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/apiclient"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: drama-client [flags] <command> [args]

Commands:
  projects                 list projects
  project <id>             show a project
  storyboards <projectId>  list storyboards of a project
  assets <projectId>       list assets of a project
  members <projectId>      list team members of a project

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	defaultBaseURL := os.Getenv("DRAMA_UPSTREAM_URL")
	if defaultBaseURL == "" {
		defaultBaseURL = "http://localhost:8123"
	}

	baseURLFlag := flag.String("base-url", defaultBaseURL, "API base url")
	token := flag.String("token", os.Getenv("DRAMA_API_TOKEN"), "bearer token")
	page := flag.Int("page", 1, "page for the projects command")
	pageSize := flag.Int("page-size", 20, "page size for the projects command")
	repeat := flag.Int("repeat", 1, "run the command this many times concurrently")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	// stdout is reserved for the JSON output
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if *repeat < 1 {
		*repeat = 1
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	baseURL, err := url.Parse(*baseURLFlag)
	if err != nil {
		fail("Invalid base url", "error", err.Error())
	}

	ctx := logging.AddToContext(context.Background(), logger)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deduplicator := dedup.New(dedup.ClientConfig(), time.Now)
	deduplicator.Start(ctx)
	defer deduplicator.Stop()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := apiclient.NewClient(httpClient, baseURL, *token, deduplicator, rate.NewLimiter(rate.Limit(5), 10))

	run, err := commandFor(client, args, *page, *pageSize)
	if err != nil {
		usage()
		fail("Invalid command", "error", err.Error())
	}

	results := make([]any, *repeat)
	errs := make([]error, *repeat)
	var wg sync.WaitGroup
	for i := range *repeat {
		wg.Go(func() {
			results[i], errs[i] = run(ctx)
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			fail("Request failed", "error", err.Error())
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results[0]); err != nil {
		fail("Failed to write output", "error", err.Error())
	}

	logger.Debug("Done", "stats", deduplicator.Stats())
}

func commandFor(client *apiclient.Client, args []string, page int, pageSize int) (func(context.Context) (any, error), error) {
	needID := func() (string, error) {
		if len(args) != 2 || args[1] == "" {
			return "", fmt.Errorf("%s takes exactly one id", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "projects":
		return func(ctx context.Context) (any, error) {
			return client.ListProjects(ctx, page, pageSize)
		}, nil
	case "project":
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return client.GetProject(ctx, id)
		}, nil
	case "storyboards":
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return client.ListStoryboards(ctx, id)
		}, nil
	case "assets":
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return client.ListAssets(ctx, id)
		}, nil
	case "members":
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return client.ListTeamMembers(ctx, id)
		}, nil
	}

	return nil, fmt.Errorf("unknown command %q", args[0])
}
