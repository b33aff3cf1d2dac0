package dedup

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Execute returns the result of producer for key, sharing a single producer
// invocation between all callers that ask for the same key while it runs.
//
// With caching enabled a result younger than the cache TTL is returned without
// invoking producer at all. Producer errors are returned unchanged to every
// caller that shared the invocation, and are never cached.
//
// Cancelling ctx only stops this caller from waiting. The producer keeps
// running for the other callers and is invoked with a context that is never
// cancelled.
//
// Results are shared, not copied. Every caller and the cache hold the same
// value, so slices, maps and pointers returned here must not be mutated.
func Execute[T any](
	ctx context.Context,
	d *Deduplicator,
	key string,
	producer func(ctx context.Context) (T, error),
	opts ...ExecuteOption,
) (T, error) {
	var empty T

	ctx, span := d.tracer.Start(ctx, "Deduplicator.Execute", trace.WithAttributes(
		attribute.String("dedup.name", d.cfg.Name),
		attribute.String("dedup.key", key),
	))
	defer span.End()

	settings := d.settingsFor(opts)

	value, call, o := d.acquire(ctx, key, settings, func(ctx context.Context) (any, error) {
		return producer(ctx)
	})
	d.record(ctx, key, o)
	span.SetAttributes(attribute.String("dedup.outcome", string(o)))

	if call == nil {
		return castValue[T](key, value)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		span.SetStatus(codes.Error, "abandoned")
		return empty, ctx.Err()
	}

	if call.err != nil {
		span.RecordError(call.err)
		span.SetStatus(codes.Error, call.err.Error())
		return empty, call.err
	}

	return castValue[T](key, call.value)
}

func castValue[T any](key string, value any) (T, error) {
	var empty T
	if value == nil {
		// Nil interface values can't be type asserted. The producer returned the zero value
		return empty, nil
	}

	typed, ok := value.(T)
	if !ok {
		return empty, fmt.Errorf("%w: key %q holds %T, wanted %T", ErrUnexpectedType, key, value, empty)
	}
	return typed, nil
}
