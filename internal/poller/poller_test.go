package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/internal/store"
	"github.com/DoyleJ11/partidas/pkg/types"
)

// scriptedLister returns the scripted responses in order and repeats the
// last one once the script runs out.
type scriptedLister struct {
	mu     sync.Mutex
	script []listResult
	calls  atomic.Int32
}

type listResult struct {
	games []types.RawGame
	err   error
}

func (l *scriptedLister) ListGames(context.Context) ([]types.RawGame, error) {
	n := int(l.calls.Add(1)) - 1
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.script) {
		n = len(l.script) - 1
	}
	return l.script[n].games, l.script[n].err
}

func newTestStore(t *testing.T, initial ...engine.Game) *store.Store {
	t.Helper()
	st := store.New(context.Background(), nil, initial...)
	t.Cleanup(st.Close)
	return st
}

func TestPoller_PollNormalizesIntoStore(t *testing.T) {
	st := newTestStore(t)
	lister := &scriptedLister{script: []listResult{{games: []types.RawGame{
		{ID: 1, Title: "Old", State: "waiting"},
		{ID: 2, Name: "New", State: "in_progress", Players: []string{"Ana"}, Score: []byte(`5`)},
	}}}}
	p := New(lister, st)

	require.NoError(t, p.Poll(context.Background()))

	games := st.List()
	require.Len(t, games, 2)
	assert.Equal(t, "Old", games[0].Name)
	assert.Empty(t, games[0].Players)
	assert.Equal(t, engine.StateInProgress, games[1].State)
	assert.Empty(t, games[1].Score)
}

func TestPoller_FailureLeavesStoreAlone(t *testing.T) {
	st := newTestStore(t, engine.NewGame(1, "Quiz"))
	boom := errors.New("connection refused")
	p := New(&scriptedLister{script: []listResult{{err: boom}}}, st)

	before := st.Version()
	assert.ErrorIs(t, p.Poll(context.Background()), boom)
	assert.Equal(t, before, st.Version())
	assert.Len(t, st.List(), 1)
}

func TestPoller_RunTicksImmediatelyAndSurvivesErrors(t *testing.T) {
	st := newTestStore(t)
	lister := &scriptedLister{script: []listResult{
		{err: errors.New("down")},
		{err: errors.New("still down")},
		{games: []types.RawGame{{ID: 9, Name: "Back"}}},
	}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := New(lister, st, WithInterval(10*time.Millisecond), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := st.Get(9)
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	require.NoError(t, p.Wait(context.Background()))

	assert.GreaterOrEqual(t, lister.calls.Load(), int32(3))
	assert.GreaterOrEqual(t, tickCount(t, reg, "error"), 2.0)
}

func tickCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "partidas_poller_ticks_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPoller_FirstTickIsImmediate(t *testing.T) {
	st := newTestStore(t)
	lister := &scriptedLister{script: []listResult{{games: []types.RawGame{{ID: 1}}}}}
	p := New(lister, st, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return len(st.List()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), lister.calls.Load())
}

// blockingLister holds every fetch until release is closed.
type blockingLister struct {
	entered chan struct{}
	release chan struct{}
	games   []types.RawGame
}

func (b *blockingLister) ListGames(ctx context.Context) ([]types.RawGame, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.games, ctx.Err()
}

func TestPoller_InFlightFetchOutlivesCancel(t *testing.T) {
	st := newTestStore(t)
	lister := &blockingLister{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		games:   []types.RawGame{{ID: 3, Name: "Late"}},
	}
	p := New(lister, st, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-lister.entered
	cancel()
	<-done
	close(lister.release)
	require.NoError(t, p.Wait(context.Background()))

	_, ok := st.Get(3)
	assert.True(t, ok, "a fetch already in flight still applies its result")
}

// stalledLister never answers until its context ends.
type stalledLister struct {
	entered chan struct{}
}

func (s *stalledLister) ListGames(ctx context.Context) ([]types.RawGame, error) {
	s.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPoller_WaitGivesUpOnStalledFetch(t *testing.T) {
	st := newTestStore(t)
	lister := &stalledLister{entered: make(chan struct{}, 1)}
	p := New(lister, st, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-lister.entered
	cancel()
	<-done

	waitCtx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	start := time.Now()
	err := p.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoller_RunWithDoneContextStartsNothing(t *testing.T) {
	st := newTestStore(t)
	lister := &scriptedLister{script: []listResult{{games: []types.RawGame{{ID: 1}}}}}
	p := New(lister, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	require.NoError(t, p.Wait(context.Background()))
	assert.Zero(t, lister.calls.Load())
}

func TestPoller_GuardKeepsLocalEdit(t *testing.T) {
	cases := []struct {
		name    string
		guarded bool
		want    engine.State
	}{
		{name: "guarded", guarded: true, want: engine.StateInProgress},
		{name: "unguarded", guarded: false, want: engine.StateWaiting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestStore(t, engine.NewGame(1, "Quiz"))
			lister := &blockingLister{
				entered: make(chan struct{}, 1),
				release: make(chan struct{}),
				games:   []types.RawGame{{ID: 1, Name: "Quiz", State: "waiting"}},
			}
			p := New(lister, st, WithGuard(tc.guarded))

			errCh := make(chan error, 1)
			go func() { errCh <- p.Poll(context.Background()) }()
			<-lister.entered

			started := engine.NewGame(1, "Quiz")
			started.State = engine.StateInProgress
			st.UpsertOne(started)

			close(lister.release)
			require.NoError(t, <-errCh)

			g, _ := st.Get(1)
			assert.Equal(t, tc.want, g.State)
		})
	}
}
