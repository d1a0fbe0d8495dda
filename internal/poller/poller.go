// Package poller refreshes the session store from the remote service on a
// fixed cadence.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/pkg/types"
)

const DefaultInterval = 5 * time.Second

type Lister interface {
	ListGames(ctx context.Context) ([]types.RawGame, error)
}

type Store interface {
	Version() uint64
	ReplaceAll(games []engine.Game) bool
	Reconcile(games []engine.Game, since uint64) bool
}

type Poller struct {
	lister   Lister
	store    Store
	interval time.Duration
	guarded  bool
	log      *zap.Logger
	metrics  *metrics.Metrics
	inflight sync.WaitGroup
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option   { return func(p *Poller) { p.interval = d } }
func WithLogger(l *zap.Logger) Option       { return func(p *Poller) { p.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Poller) { p.metrics = m } }

// WithGuard selects Reconcile (true, the default) or a plain ReplaceAll.
func WithGuard(on bool) Option { return func(p *Poller) { p.guarded = on } }

func New(lister Lister, st Store, opts ...Option) *Poller {
	p := &Poller{
		lister:   lister,
		store:    st,
		interval: DefaultInterval,
		guarded:  true,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	p.log = p.log.Named("poller")
	return p
}

// Run ticks once right away and then every interval until ctx is done. A
// tick never waits for the previous one, and fetches already in flight are
// left to finish.
func (p *Poller) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("poller stopped")
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

// Wait blocks until every tick started by Run has finished or ctx is done,
// whichever comes first. Call it only after Run has returned. Fetches still
// running when ctx ends are abandoned, not cancelled.
func (p *Poller) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		_ = p.Poll(context.WithoutCancel(ctx))
	}()
}

// Poll runs one refresh. Errors are logged and returned; the store is left
// as it was.
func (p *Poller) Poll(ctx context.Context) error {
	since := p.store.Version()
	raws, err := p.lister.ListGames(ctx)
	if err != nil {
		p.metrics.PollTick("error")
		p.log.Warn("poll failed", zap.Error(err))
		return err
	}

	games := engine.NormalizeAll(raws)
	var changed bool
	if p.guarded {
		changed = p.store.Reconcile(games, since)
	} else {
		changed = p.store.ReplaceAll(games)
	}

	if changed {
		p.metrics.PollTick("changed")
		p.log.Debug("poll applied", zap.Int("games", len(games)))
	} else {
		p.metrics.PollTick("unchanged")
	}
	return nil
}
