// Package action turns user intents into remote calls and, once the service
// confirms them, into store updates. At most one mutating action per game is
// in flight at a time.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/internal/notice"
	"github.com/DoyleJ11/partidas/pkg/types"
)

var (
	ErrActionPending = errors.New("another action is pending for this game")
	ErrDeclined      = errors.New("action declined")
	ErrBlankPlayer   = errors.New("player name is blank")
)

const (
	KindStart  = "start"
	KindEnd    = "end"
	KindDelete = "delete"
	KindJoin   = "join"
	KindCreate = "create"
)

var failureMessages = map[string]string{
	KindStart:  "could not start game",
	KindEnd:    "could not end game",
	KindDelete: "could not delete game",
	KindJoin:   "could not join game",
	KindCreate: "could not create game",
}

// Remote is the part of the game service the coordinator talks to.
type Remote interface {
	CreateGame(ctx context.Context, req types.CreateGameRequest) (types.RawGame, error)
	JoinGame(ctx context.Context, id int, playerName string) ([]byte, error)
	StartGame(ctx context.Context, id int) ([]byte, error)
	EndGame(ctx context.Context, id int, score map[string]int) ([]byte, error)
	DeleteGame(ctx context.Context, id int) error
}

// Store is the subset of store.Store used here.
type Store interface {
	Get(id int) (engine.Game, bool)
	UpsertOne(g engine.Game) bool
	Apply(id int, cmd engine.Command) (engine.Game, bool, error)
	Remove(id int) bool
	SetScoreDraft(id int, player string, value int)
	ScoreDraft(id int) map[string]int
	ClearScoreDraft(id int)
}

// Confirmer asks the user before destructive actions.
type Confirmer interface {
	Confirm(ctx context.Context, g engine.Game) bool
}

type ConfirmFunc func(ctx context.Context, g engine.Game) bool

func (f ConfirmFunc) Confirm(ctx context.Context, g engine.Game) bool { return f(ctx, g) }

var (
	AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, engine.Game) bool { return true })
	NeverConfirm  Confirmer = ConfirmFunc(func(context.Context, engine.Game) bool { return false })
)

type confirmedKey struct{}

// WithConfirmed marks ctx as carrying the user's answer, for callers that
// collect it up front (a query flag, a websocket field).
func WithConfirmed(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmedKey{}, confirmed)
}

// ContextConfirmer confirms only when ctx was marked by WithConfirmed(true).
var ContextConfirmer Confirmer = ConfirmFunc(func(ctx context.Context, _ engine.Game) bool {
	ok, _ := ctx.Value(confirmedKey{}).(bool)
	return ok
})

type Coordinator struct {
	remote    Remote
	store     Store
	slots     *Slots
	confirm   Confirmer
	notifier  notice.Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
	trustEnd  bool
	ownsSlots bool
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option       { return func(c *Coordinator) { c.log = l } }
func WithNotifier(n notice.Notifier) Option { return func(c *Coordinator) { c.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }
func WithConfirmer(cf Confirmer) Option     { return func(c *Coordinator) { c.confirm = cf } }
func WithSlots(s *Slots) Option             { return func(c *Coordinator) { c.slots = s } }
func TrustEndResponse(trust bool) Option    { return func(c *Coordinator) { c.trustEnd = trust } }

// New builds a coordinator. Without WithConfirmer every delete is declined.
func New(ctx context.Context, remote Remote, st Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:   remote,
		store:    st,
		confirm:  NeverConfirm,
		notifier: notice.Nop,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.slots == nil {
		c.slots = NewSlots(ctx)
		c.ownsSlots = true
	}
	c.log = c.log.Named("action")
	return c
}

// Close stops the slot registry if the coordinator created it.
func (c *Coordinator) Close() {
	if c.ownsSlots {
		c.slots.Close()
	}
}

// Slots exposes the pending-action registry.
func (c *Coordinator) Slots() *Slots { return c.slots }

func (c *Coordinator) Start(ctx context.Context, id int) error {
	return c.run(ctx, id, KindStart, func(ctx context.Context) error {
		if _, err := c.remote.StartGame(ctx, id); err != nil {
			return err
		}
		c.apply(id, engine.Command{Type: engine.CmdStart})
		return nil
	})
}

// End submits the current score draft. On success the game is finished with
// that draft as its score, and the draft is cleared.
func (c *Coordinator) End(ctx context.Context, id int) error {
	return c.run(ctx, id, KindEnd, func(ctx context.Context) error {
		draft := c.store.ScoreDraft(id)
		body, err := c.remote.EndGame(ctx, id, draft)
		if err != nil {
			return err
		}
		if raw, ok := engine.DecodeGame(body); c.trustEnd && ok && raw.ID == id {
			c.store.UpsertOne(engine.Normalize(raw))
		} else {
			c.apply(id, engine.Command{Type: engine.CmdEnd, Score: draft})
		}
		c.store.ClearScoreDraft(id)
		return nil
	})
}

// Delete asks for confirmation before anything else; a declined delete never
// claims the slot.
func (c *Coordinator) Delete(ctx context.Context, id int) error {
	g, ok := c.store.Get(id)
	if !ok {
		g = engine.Game{ID: id}
	}
	if !c.confirm.Confirm(ctx, g) {
		c.metrics.Action(KindDelete, "declined")
		return fmt.Errorf("delete game %d: %w", id, ErrDeclined)
	}
	return c.run(ctx, id, KindDelete, func(ctx context.Context) error {
		if err := c.remote.DeleteGame(ctx, id); err != nil {
			return err
		}
		c.store.Remove(id)
		return nil
	})
}

func (c *Coordinator) Join(ctx context.Context, id int, player string) error {
	player = strings.TrimSpace(player)
	if player == "" {
		return fmt.Errorf("join game %d: %w", id, ErrBlankPlayer)
	}
	return c.run(ctx, id, KindJoin, func(ctx context.Context) error {
		body, err := c.remote.JoinGame(ctx, id, player)
		if err != nil {
			return err
		}
		RecordJoin(c.store, id, player, body)
		return nil
	})
}

// Create submits a new game and inserts the normalized result.
func (c *Coordinator) Create(ctx context.Context, req types.CreateGameRequest) (engine.Game, error) {
	raw, err := c.remote.CreateGame(ctx, req)
	if err != nil {
		c.fail(ctx, KindCreate, 0, err)
		return engine.Game{}, err
	}
	g := engine.Normalize(raw)
	c.store.UpsertOne(g)
	c.metrics.Action(KindCreate, "ok")
	c.log.Info("game created", zap.Int("game_id", g.ID), zap.String("name", g.Name))
	return g, nil
}

// OnScoreChange records a draft score typed by the user. Anything that is
// not a finite number counts as 0.
func (c *Coordinator) OnScoreChange(id int, player, value string) int {
	n := engine.ParseScore(value)
	c.store.SetScoreDraft(id, player, n)
	return n
}

// RecordJoin stores a confirmed join: the response record when the service
// sent one for this game, else the player appended locally.
func RecordJoin(st Store, id int, player string, body []byte) {
	if raw, ok := engine.DecodeGame(body); ok && raw.ID == id {
		st.UpsertOne(engine.Normalize(raw))
		return
	}
	// Already listed means a poll got there first.
	_, _, _ = st.Apply(id, engine.Command{Type: engine.CmdJoin, Player: player})
}

func (c *Coordinator) run(ctx context.Context, id int, kind string, call func(context.Context) error) error {
	if !c.slots.TryClaim(id, kind) {
		c.metrics.Action(kind, "rejected")
		c.log.Debug("action rejected, slot busy", zap.String("kind", kind), zap.Int("game_id", id))
		return fmt.Errorf("%s game %d: %w", kind, id, ErrActionPending)
	}
	defer c.slots.Release(id)

	if err := call(ctx); err != nil {
		c.fail(ctx, kind, id, err)
		return err
	}
	c.metrics.Action(kind, "ok")
	c.log.Info("action confirmed", zap.String("kind", kind), zap.Int("game_id", id))
	return nil
}

func (c *Coordinator) apply(id int, cmd engine.Command) {
	if _, found, err := c.store.Apply(id, cmd); err != nil || !found {
		c.log.Debug("confirmed action not applied locally",
			zap.String("cmd", string(cmd.Type)), zap.Int("game_id", id), zap.Bool("found", found), zap.Error(err))
	}
}

func (c *Coordinator) fail(ctx context.Context, kind string, id int, err error) {
	c.metrics.Action(kind, "failed")
	c.log.Warn("action failed", zap.String("kind", kind), zap.Int("game_id", id), zap.Error(err))
	c.notifier.Notify(ctx, notice.Notice{
		Level:   notice.LevelError,
		Action:  kind,
		GameID:  id,
		Message: failureMessages[kind],
		Err:     err,
	})
}
