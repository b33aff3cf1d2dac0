package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/config"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/gateway"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Distroless images ship without a CA bundle
	_ "golang.org/x/crypto/x509roots/fallback"
)

const serviceName = "drama-gateway"

func main() {
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	instanceID := uuid.New().String()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	conf, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}

	logger = logging.NewRootLogger(conf.IsDevelopment(), conf.OTelEnabled()).With("instanceID", instanceID)
	logger.Info("Loaded config", "config", conf.NonSensitiveString())

	if conf.OTelEnabled() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(conf)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	allowedOrigins, err := gateway.NewDomainSuffixes(conf.AllowedOrigins()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	dedupConfig := dedup.ServerConfig()
	dedupConfig.PendingTTL = conf.PendingTTL()
	dedupConfig.SweepInterval = conf.SweepInterval()
	deduplicator := dedup.New(dedupConfig, time.Now)
	deduplicator.Start(logging.AddToContext(ctx, logger.With("component", "dedup")))
	defer deduplicator.Stop()

	upstreamTransport := otelhttp.NewTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	})

	handler, stopHandler := gateway.NewHandler(gateway.Options{
		Deduplicator:     deduplicator,
		Upstream:         conf.UpstreamURL(),
		Transport:        upstreamTransport,
		AllowedOrigins:   allowedOrigins,
		RootLogger:       logger,
		SentryMiddleware: sentryMiddleware,
		NowFunc:          time.Now,
	})
	defer stopHandler()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", conf.Port()),
		Handler:           otelhttp.NewHandler(handler, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	logger.Info("Init complete", "addr", server.Addr, "upstream", conf.UpstreamURL().Redacted())

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fail("Server error", "error", err.Error())
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}

	logger.Info("Server shutdown")
}
