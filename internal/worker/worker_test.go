package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/murmur/internal/dispatch"
	"github.com/stretchr/testify/require"
)

// recorder collects callbacks delivered on the loop.
type recorder struct {
	mu       sync.Mutex
	progress []string
	outcomes []Outcome[string]
	done     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 8)}
}

func (r *recorder) onProgress(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, chunk)
}

func (r *recorder) onComplete(out Outcome[string]) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) snapshot() ([]string, []Outcome[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...), append([]Outcome[string](nil), r.outcomes...)
}

func (r *recorder) waitOutcome(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func startLoop(t *testing.T) *dispatch.Loop {
	t.Helper()
	loop := dispatch.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func flush(t *testing.T, loop *dispatch.Loop) {
	t.Helper()
	require.NoError(t, loop.Call(context.Background(), func() {}))
}

func TestRunDeliversProgressThenCompletion(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 100*time.Millisecond, nil)
	rec := newRecorder()

	h := d.Run(func(_ context.Context, emit func(string)) (string, error) {
		emit("a")
		emit("b")
		emit("c")
		return "ok", nil
	}, rec.onProgress, rec.onComplete)
	require.NotEmpty(t, h.ID())

	rec.waitOutcome(t)
	<-h.Done()

	progress, outcomes := rec.snapshot()
	require.Equal(t, []string{"a", "b", "c"}, progress)
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusCompleted, outcomes[0].Status)
	require.Equal(t, "ok", outcomes[0].Value)
	require.Equal(t, h.ID(), outcomes[0].TaskID)
	require.NoError(t, outcomes[0].Err)
	require.Zero(t, d.Outstanding())
}

func TestRunTaskErrorIsFailedOutcome(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 0, nil)
	rec := newRecorder()

	d.Run(func(context.Context, func(string)) (string, error) {
		return "", errors.New("upstream 500")
	}, nil, rec.onComplete)
	rec.waitOutcome(t)

	_, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusFailed, outcomes[0].Status)
	require.EqualError(t, outcomes[0].Err, "upstream 500")
}

func TestRunRecoversPanic(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 0, nil)
	rec := newRecorder()

	d.Run(func(context.Context, func(string)) (string, error) {
		panic("nil map")
	}, nil, rec.onComplete)
	rec.waitOutcome(t)

	_, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusFailed, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, ErrTaskPanicked)
	require.Contains(t, outcomes[0].Err.Error(), "nil map")
}

func TestCancelCooperativeTask(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, time.Second, nil)
	rec := newRecorder()

	started := make(chan struct{})
	h := d.Run(func(ctx context.Context, emit func(string)) (string, error) {
		emit("partial")
		close(started)
		<-ctx.Done()
		emit("after cancel")
		return "late result", nil
	}, rec.onProgress, rec.onComplete)

	<-started
	require.True(t, h.Cancel())
	require.False(t, h.Forced())
	<-h.Done()

	rec.waitOutcome(t)
	flush(t, loop)

	_, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusCancelled, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, ErrCancelled)
	require.False(t, outcomes[0].Forced)

	progress, _ := rec.snapshot()
	require.NotContains(t, progress, "after cancel")

	require.False(t, h.Cancel())
	require.Zero(t, d.Outstanding())
}

func TestCancelForcesStuckTask(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 30*time.Millisecond, nil)
	rec := newRecorder()

	release := make(chan struct{})
	started := make(chan struct{})
	h := d.Run(func(context.Context, func(string)) (string, error) {
		close(started)
		<-release
		return "ignored", nil
	}, nil, rec.onComplete)

	<-started
	begin := time.Now()
	require.True(t, h.Cancel())
	require.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
	require.True(t, h.Forced())
	require.Equal(t, int64(1), d.Leaked())
	require.Equal(t, 1, d.Outstanding())

	rec.waitOutcome(t)
	close(release)
	<-h.Done()
	flush(t, loop)

	_, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusCancelled, outcomes[0].Status)
	require.True(t, outcomes[0].Forced)
	require.Zero(t, d.Leaked())
	require.Zero(t, d.Outstanding())
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 50*time.Millisecond, nil)
	rec := newRecorder()

	h := d.Run(func(context.Context, func(string)) (string, error) {
		return "done", nil
	}, nil, rec.onComplete)
	<-h.Done()

	require.False(t, h.Cancel())
	rec.waitOutcome(t)
	flush(t, loop)

	_, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusCompleted, outcomes[0].Status)
}

func TestCancelRaceYieldsExactlyOneOutcome(t *testing.T) {
	loop := startLoop(t)
	d := NewDispatcher[string](loop, 50*time.Millisecond, nil)

	for i := 0; i < 200; i++ {
		rec := newRecorder()
		h := d.Run(func(ctx context.Context, _ func(string)) (string, error) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "ok", nil
		}, nil, rec.onComplete)
		h.Cancel()
		<-h.Done()
		rec.waitOutcome(t)
		flush(t, loop)

		_, outcomes := rec.snapshot()
		require.Len(t, outcomes, 1, "iteration %d", i)
	}
}
