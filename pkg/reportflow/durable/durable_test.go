package durable_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
)

type testMode string

func (m testMode) EventName() string { return string(m) }

const (
	answered testMode = "clarification.answered"
	cancel   testMode = "chain.cancel"
)

func newEngine(opts ...durable.Option) *durable.Engine {
	opts = append([]durable.Option{durable.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return durable.New(checkpoint.NewMemoryStore(), signal.NewMemoryStore(), opts...)
}

func TestStepKey(t *testing.T) {
	k := durable.StepKey{RunID: "r1", Step: "an0#1"}
	assert.Equal(t, "r1/an0#1", k.String())

	parsed, err := durable.ParseStepKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	for _, bad := range []string{"", "r1", "/an0", "r1/"} {
		_, err := durable.ParseStepKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunStep_Replays(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	key := durable.StepKey{RunID: "r1", Step: "an0"}

	var calls int
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"n":1}`), nil
	}

	payload, replayed, err := e.RunStep(ctx, key, fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, `{"n":1}`, string(payload))

	payload, replayed, err = e.RunStep(ctx, key, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"n":1}`, string(payload))
	assert.Equal(t, 1, calls)

	steps, err := e.Steps("r1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "an0", steps[0].Step)
}

func TestRunStep_FailureNotJournaled(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	key := durable.StepKey{RunID: "r1", Step: "an1"}
	boom := errors.New("boom")

	_, _, err := e.RunStep(ctx, key, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	payload, replayed, err := e.RunStep(ctx, key, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "ok", string(payload))
}

func TestRunStep_ConcurrentFirstWriterWins(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	key := durable.StepKey{RunID: "r1", Step: "an2"}

	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		ran     atomic.Int32
		results = make([]string, 4)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			payload, _, err := e.RunStep(ctx, key, func(context.Context) ([]byte, error) {
				ran.Add(1)
				return []byte{byte('a' + i)}, nil
			})
			assert.NoError(t, err)
			results[i] = string(payload)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r, "all callers see the journaled payload")
	}
	assert.GreaterOrEqual(t, ran.Load(), int32(1))
}

func TestForget(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	key := durable.StepKey{RunID: "r1", Step: "an0"}
	_, _, err := e.RunStep(ctx, key, func(context.Context) ([]byte, error) { return []byte("x"), nil })
	require.NoError(t, err)

	require.NoError(t, e.Forget("r1"))
	steps, err := e.Steps("r1")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestWaitForEvent_SuspendsWithoutEvent(t *testing.T) {
	e := newEngine()
	_, err := e.WaitForEvent(context.Background(), "r1", answered, nil)
	assert.ErrorIs(t, err, durable.ErrSuspended)
}

func TestWaitForEvent_OldestMatching(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.SendEvent(ctx, cancel, "r1", nil)
	require.NoError(t, err)
	first, err := e.SendEvent(ctx, answered, "r1", map[string]any{"answer": "one"})
	require.NoError(t, err)
	_, err = e.SendEvent(ctx, answered, "r1", map[string]any{"answer": "two"})
	require.NoError(t, err)

	got, err := e.WaitForEvent(ctx, "r1", answered, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "one", got.String("answer"))

	got, err = e.WaitForEvent(ctx, "r1", answered, func(ev *signal.Event) bool {
		return ev.String("answer") == "two"
	})
	require.NoError(t, err)
	assert.Equal(t, "two", got.String("answer"))

	_, err = e.WaitForEvent(ctx, "r2", answered, nil)
	assert.ErrorIs(t, err, durable.ErrSuspended)
}

func TestAckAndReject(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	a, err := e.SendEvent(ctx, answered, "r1", map[string]any{"answer": "a"})
	require.NoError(t, err)
	b, err := e.SendEvent(ctx, answered, "r1", map[string]any{"answer": "b"})
	require.NoError(t, err)

	require.NoError(t, e.Ack(ctx, a))
	got, err := e.WaitForEvent(ctx, "r1", answered, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	require.NoError(t, e.Reject(ctx, b, errors.New("stale")))
	_, err = e.WaitForEvent(ctx, "r1", answered, nil)
	assert.ErrorIs(t, err, durable.ErrSuspended)

	events, err := e.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, signal.StatusProcessed, events[0].Status)
	assert.Equal(t, signal.StatusFailed, events[1].Status)
	assert.Equal(t, "stale", events[1].Error)
}

func TestWaitForEvent_Deadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(durable.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	expired, err := e.SendEvent(ctx, answered, "r1", nil, durable.WithDeadline(now.Add(-time.Second)))
	require.NoError(t, err)
	live, err := e.SendEvent(ctx, answered, "r1", nil, durable.WithDeadline(now.Add(time.Hour)))
	require.NoError(t, err)

	got, err := e.WaitForEvent(ctx, "r1", answered, nil)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)

	events, err := e.Events(ctx, "r1")
	require.NoError(t, err)
	for _, ev := range events {
		if ev.ID == expired.ID {
			assert.Equal(t, signal.StatusExpired, ev.Status)
		}
	}
}

func TestHasPending(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	ok, err := e.HasPending(ctx, "r1", cancel)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.SendEvent(ctx, cancel, "r1", nil)
	require.NoError(t, err)

	ok, err = e.HasPending(ctx, "r1", cancel)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendEvent_RequiresTarget(t *testing.T) {
	e := newEngine()
	_, err := e.SendEvent(context.Background(), cancel, "", nil)
	assert.Error(t, err)
}
