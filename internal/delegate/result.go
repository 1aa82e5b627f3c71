package delegate

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a capability call: either data or "not
// applicable". A zero Result is not applicable.
type Result[T any] struct {
	value T
	ok    bool
}

// Data wraps v as an applicable result.
func Data[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// NotApplicable returns a result carrying no data.
func NotApplicable[T any]() Result[T] {
	return Result[T]{}
}

func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

func (r Result[T]) Applicable() bool {
	return r.ok
}

// Or returns the value, or fallback when not applicable.
func (r Result[T]) Or(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Entry is one handler's contribution to CollectAll.
type Entry[T any] struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Data     T      `json:"data"`
}

// Execute calls fn on the best enabled handler for typeKey, or on the
// registry's default handler when none is enabled. Errors and panics raised
// by fn are logged and produce NotApplicable. A failing best handler does
// not fall through to lower-priority handlers for the same type key.
func Execute[H Handler, T any](ctx context.Context, r *Registry[H], typeKey string, fn func(context.Context, H) (Result[T], error)) Result[T] {
	h, ok := r.GetHandler(ctx, typeKey)
	name := typeKey
	if ok {
		name = h.Name()
	} else {
		h, ok = r.defaultHandler()
		if !ok {
			dispatchTotal.WithLabelValues(r.name, "no_handler").Inc()
			return NotApplicable[T]()
		}
		name = "default"
	}

	res, err := call(ctx, h, fn)
	if err != nil {
		r.logger.Warn("capability call failed", "handler", name, "type_key", typeKey, "error", err)
		capabilityFailures.WithLabelValues(r.name).Inc()
		dispatchTotal.WithLabelValues(r.name, "error").Inc()
		return NotApplicable[T]()
	}
	if !res.Applicable() {
		dispatchTotal.WithLabelValues(r.name, "not_applicable").Inc()
		return res
	}
	dispatchTotal.WithLabelValues(r.name, "ok").Inc()
	return res
}

// CollectAll calls fn on every enabled handler in parallel and returns the
// applicable results, highest priority first. A failing handler is skipped
// and never affects the others.
func CollectAll[H Handler, T any](ctx context.Context, r *Registry[H], fn func(context.Context, H) (Result[T], error)) []Entry[T] {
	es := r.enabledEntries(ctx)

	results := make([]Result[T], len(es))
	var g errgroup.Group
	for i, e := range es {
		g.Go(func() error {
			res, err := call(ctx, e.handler, fn)
			if err != nil {
				r.logger.Warn("capability call failed", "handler", e.name, "error", err)
				capabilityFailures.WithLabelValues(r.name).Inc()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Entry[T], 0, len(es))
	for i, e := range es {
		if v, ok := results[i].Value(); ok {
			out = append(out, Entry[T]{Name: e.name, Priority: e.priority, Data: v})
		}
	}
	return slices.Clip(out)
}

func call[H Handler, T any](ctx context.Context, h H, fn func(context.Context, H) (Result[T], error)) (res Result[T], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, h)
}
