// Package sequence runs an operation over a slice strictly one element at a
// time. Chaincode endorsement on a channel is not safely concurrent from one
// client identity, so everything that writes in a loop goes through here.
package sequence

import "context"

// Run applies fn to each item in order, never starting item i+1 before the
// call for item i has returned. The first error stops the sequence and is
// returned; callers that want the sequence to survive per-item failures
// handle them inside fn and return nil.
func Run[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Collect is Run with results retained, one per item, in item order.
func Collect[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, err := fn(ctx, item)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
