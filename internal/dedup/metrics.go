package dedup

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "drama/dedup"

type outcome string

const (
	outcomeHit  outcome = "hit"
	outcomeJoin outcome = "join"
	outcomeMiss outcome = "miss"
)

type dedupMetricsCollection struct {
	executeCount     metric.Int64Counter
	producerErrors   metric.Int64Counter
	producerDuration metric.Float64Histogram
}

var metrics dedupMetricsCollection

func init() {
	meter := otel.Meter(instrumentationName)

	executeCount, err := meter.Int64Counter(
		"dedup/execute_count",
		metric.WithDescription("Calls to Execute, by outcome (hit, join, miss)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create execute count metric: %w", err))
	}

	producerErrors, err := meter.Int64Counter(
		"dedup/producer_error_count",
		metric.WithDescription("Producer invocations that settled with an error"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create producer error count metric: %w", err))
	}

	producerDuration, err := meter.Float64Histogram(
		"dedup/producer_duration_seconds",
		metric.WithDescription("Time from producer invocation to settlement"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create producer duration metric: %w", err))
	}

	metrics = dedupMetricsCollection{
		executeCount:     executeCount,
		producerErrors:   producerErrors,
		producerDuration: producerDuration,
	}
}
