package dedup

import "context"

// WrapFetch returns fetch wrapped in Execute, keyed by getKey(arg).
//
// getKey must map logically identical requests to identical keys and
// different requests to different keys. Nothing here can check that.
func WrapFetch[A any, T any](
	d *Deduplicator,
	getKey func(arg A) string,
	fetch func(ctx context.Context, arg A) (T, error),
	opts ...ExecuteOption,
) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return Execute(ctx, d, getKey(arg), func(ctx context.Context) (T, error) {
			return fetch(ctx, arg)
		}, opts...)
	}
}
