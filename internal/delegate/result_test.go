package delegate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func displayData(ctx context.Context, h *fakeHandler) (Result[string], error) {
	return h.DisplayData(ctx)
}

func TestResultVariants(t *testing.T) {
	v, ok := Data(42).Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	none := NotApplicable[int]()
	assert.False(t, none.Applicable())
	assert.Equal(t, 7, none.Or(7))

	var zero Result[string]
	assert.False(t, zero.Applicable())
}

func TestCollectAllSkipsFailingHandler(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	low := newFake("low", "block_a", 1, true)
	broken := newFake("broken", "block_b", 5, true)
	broken.display = "boom"
	high := newFake("high", "block_c", 9, true)
	silent := newFake("silent", "block_d", 3, true)
	silent.display = ""
	disabled := newFake("disabled", "block_e", 10, false)
	for _, h := range []*fakeHandler{low, broken, high, silent, disabled} {
		require.NoError(t, r.Register(h))
	}
	require.NoError(t, r.UpdateHandlers(ctx))

	got := CollectAll(ctx, r, displayData)

	require.Len(t, got, 2)
	assert.Equal(t, Entry[string]{Name: "high", Priority: 9, Data: "high"}, got[0])
	assert.Equal(t, Entry[string]{Name: "low", Priority: 1, Data: "low"}, got[1])
}

func TestCollectAllStableOnTies(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(newFake(name, name, 0, true)))
	}

	got := CollectAll(ctx, r, displayData)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Name)
	assert.Equal(t, "a", got[1].Name)
	assert.Equal(t, "b", got[2].Name)
}

func TestExecuteDispatchesToBestHandler(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	require.NoError(t, r.Register(newFake("A", "quiz", 10, true)))
	require.NoError(t, r.Register(newFake("B", "quiz", 20, true)))

	res := Execute(ctx, r, "quiz", displayData)
	v, ok := res.Value()
	require.True(t, ok)
	assert.Equal(t, "B", v)
}

func TestExecuteFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	require.NoError(t, r.Register(newFake("off", "quiz", 10, false)))

	res := Execute(ctx, r, "quiz", displayData)
	assert.False(t, res.Applicable())

	r.SetDefault(newFake("unsupported", "", 0, true))
	res = Execute(ctx, r, "quiz", displayData)
	assert.Equal(t, "unsupported", res.Or(""))
}

func TestExecuteCapabilityFailure(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	require.NoError(t, r.Register(newFake("A", "quiz", 0, true)))

	res := Execute(ctx, r, "quiz", func(ctx context.Context, h *fakeHandler) (Result[string], error) {
		return NotApplicable[string](), errors.New("render failed")
	})
	assert.False(t, res.Applicable())

	res = Execute(ctx, r, "quiz", func(ctx context.Context, h *fakeHandler) (Result[string], error) {
		panic("render exploded")
	})
	assert.False(t, res.Applicable())
}

func TestExecuteFailureDoesNotFallThrough(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	require.NoError(t, r.Register(newFake("best", "quiz", 5, true)))
	require.NoError(t, r.Register(newFake("backup", "quiz", 1, true)))

	var called []string
	res := Execute(ctx, r, "quiz", func(ctx context.Context, h *fakeHandler) (Result[string], error) {
		called = append(called, h.Name())
		if h.Name() == "best" {
			return NotApplicable[string](), errors.New("render failed")
		}
		return Data(h.Name()), nil
	})
	assert.False(t, res.Applicable())
	assert.Equal(t, []string{"best"}, called)
}
