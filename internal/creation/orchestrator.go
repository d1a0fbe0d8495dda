// Package creation runs the multi-step "create a game and enroll everyone"
// workflow: one create call followed by one join per extra player, strictly
// in order.
package creation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/internal/notice"
	"github.com/DoyleJ11/partidas/pkg/types"
)

var (
	ErrValidation  = errors.New("invalid game form")
	ErrNotEnrolled = errors.New("player not enrolled")
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateEnrolling  State = "enrolling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskJoined  TaskStatus = "joined"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
)

// Plan is the filled-in creation form. Players[0] creates the game.
type Plan struct {
	Name       string   `json:"name"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
}

// Validate reports every problem at once, wrapped in ErrValidation.
func (p Plan) Validate() error {
	var errs error
	if len(p.Players) == 0 {
		errs = multierr.Append(errs, errors.New("at least one player is required"))
	}
	for i, name := range p.Players {
		if strings.TrimSpace(name) == "" {
			errs = multierr.Append(errs, fmt.Errorf("player %d: name is blank", i+1))
		}
	}
	if p.MaxPlayers > 0 && p.MaxPlayers < len(p.Players) {
		errs = multierr.Append(errs, fmt.Errorf("max players %d is below the %d players listed", p.MaxPlayers, len(p.Players)))
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrValidation, errs)
	}
	return nil
}

// ResizeSlots grows the player list with blank slots or truncates it to n.
func ResizeSlots(players []string, n int) []string {
	n = max(n, 0)
	out := make([]string, n)
	copy(out, players)
	return out
}

type Task struct {
	Player string     `json:"player"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

type Result struct {
	State  State       `json:"state"`
	GameID int         `json:"gameId,omitempty"`
	Game   engine.Game `json:"game"`
	Tasks  []Task      `json:"tasks"`
	Err    error       `json:"-"`
	Error  string      `json:"error,omitempty"`
}

type Orchestrator struct {
	remote   action.Remote
	store    action.Store
	slots    *action.Slots
	limiter  *rate.Limiter
	notifier notice.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option       { return func(o *Orchestrator) { o.log = l } }
func WithNotifier(n notice.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithLimiter(l *rate.Limiter) Option    { return func(o *Orchestrator) { o.limiter = l } }
func WithSlots(s *action.Slots) Option      { return func(o *Orchestrator) { o.slots = s } }

func New(remote action.Remote, st action.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:   remote,
		store:    st,
		notifier: notice.Nop,
		log:      zap.NewNop(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("creation")
	return o
}

// State is the state of the most recent workflow.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run validates the plan, creates the game and enrolls the remaining players
// one at a time. The first failed join aborts the rest; nothing is retried
// or rolled back.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) Result {
	res := Result{State: StateIdle}
	if err := plan.Validate(); err != nil {
		o.setState(StateIdle)
		res.Err, res.Error = err, err.Error()
		o.notifier.Notify(ctx, notice.Notice{
			Level:   notice.LevelWarning,
			Action:  action.KindCreate,
			Message: "the game form is incomplete",
			Err:     err,
		})
		return res
	}

	players := make([]string, len(plan.Players))
	for i, p := range plan.Players {
		players[i] = strings.TrimSpace(p)
	}
	res.Tasks = make([]Task, 0, len(players)-1)
	for _, p := range players[1:] {
		res.Tasks = append(res.Tasks, Task{Player: p, Status: TaskPending})
	}

	o.setState(StateSubmitting)
	res.State = StateSubmitting
	raw, err := o.remote.CreateGame(ctx, types.CreateGameRequest{
		Name:       plan.Name,
		MaxPlayers: plan.MaxPlayers,
		PlayerName: players[0],
	})
	if err != nil {
		for i := range res.Tasks {
			res.Tasks[i].Status = TaskSkipped
		}
		return o.finish(ctx, res, err, "could not create game")
	}

	game := engine.Normalize(raw)
	res.GameID, res.Game = game.ID, game
	o.store.UpsertOne(game)
	o.log.Info("game created", zap.Int("game_id", game.ID), zap.Int("to_enroll", len(res.Tasks)))

	if o.slots != nil {
		if o.slots.TryClaim(game.ID, action.KindCreate) {
			defer o.slots.Release(game.ID)
		} else {
			o.log.Debug("enrolling without the game slot, another action holds it", zap.Int("game_id", game.ID))
		}
	}

	o.setState(StateEnrolling)
	res.State = StateEnrolling
	var errs error
	for i := range res.Tasks {
		task := &res.Tasks[i]
		if errs != nil {
			task.Status = TaskSkipped
			errs = multierr.Append(errs, fmt.Errorf("%q skipped: %w", task.Player, ErrNotEnrolled))
			o.metrics.Enrollment(string(TaskSkipped))
			continue
		}

		if err := o.enroll(ctx, game.ID, task.Player); err != nil {
			task.Status, task.Error = TaskFailed, err.Error()
			errs = multierr.Append(errs, fmt.Errorf("join %q: %w", task.Player, err))
			o.metrics.Enrollment(string(TaskFailed))
			continue
		}
		task.Status = TaskJoined
		o.metrics.Enrollment(string(TaskJoined))
	}

	if g, ok := o.store.Get(game.ID); ok {
		res.Game = g
	}
	if errs != nil {
		return o.finish(ctx, res, errs, "game created but not every player could join")
	}
	return o.finish(ctx, res, nil, "")
}

func (o *Orchestrator) enroll(ctx context.Context, id int, player string) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	body, err := o.remote.JoinGame(ctx, id, player)
	if err != nil {
		return err
	}
	action.RecordJoin(o.store, id, player, body)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, res Result, err error, message string) Result {
	if err == nil {
		res.State = StateDone
		o.setState(StateDone)
		o.metrics.Creation(string(StateDone))
		o.log.Info("creation done", zap.Int("game_id", res.GameID))
		return res
	}

	res.State, res.Err, res.Error = StateFailed, err, err.Error()
	o.setState(StateFailed)
	o.metrics.Creation(string(StateFailed))
	o.log.Warn("creation failed", zap.Int("game_id", res.GameID), zap.Error(err))
	o.notifier.Notify(ctx, notice.Notice{
		Level:   notice.LevelError,
		Action:  action.KindCreate,
		GameID:  res.GameID,
		Message: message,
		Err:     err,
	})
	return res
}
