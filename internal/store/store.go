package store

import (
	"context"
	"maps"

	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/engine"
)

type Msg interface{ isStoreMsg() }

type List struct {
	Reply chan []engine.Game
}

func (List) isStoreMsg() {}

type Get struct {
	ID    int
	Reply chan GetResult
}

func (Get) isStoreMsg() {}

type GetResult struct {
	Game  engine.Game
	Found bool
}

// ReplaceAll swaps in a freshly fetched list. With Guarded set, games touched
// locally after Since keep their local copy.
type ReplaceAll struct {
	Games   []engine.Game
	Since   uint64
	Guarded bool
	Reply   chan bool // reports whether anything changed; may be nil
}

func (ReplaceAll) isStoreMsg() {}

type Upsert struct {
	Game  engine.Game
	Reply chan bool
}

func (Upsert) isStoreMsg() {}

// FromClient applies a confirmed command to one game inside the loop, so a
// poll landing in between cannot be lost under a stale copy.
type FromClient struct {
	ID    int
	Cmd   engine.Command
	Reply chan CommandResult // may be nil
}

func (FromClient) isStoreMsg() {}

type CommandResult struct {
	Game  engine.Game
	Found bool
	Err   error
}

type Remove struct {
	ID    int
	Reply chan bool
}

func (Remove) isStoreMsg() {}

type SetDraft struct {
	ID     int
	Player string
	Value  int
	Reply  chan bool
}

func (SetDraft) isStoreMsg() {}

type GetDraft struct {
	ID    int
	Reply chan map[string]int
}

func (GetDraft) isStoreMsg() {}

type ClearDraft struct {
	ID    int
	Reply chan bool
}

func (ClearDraft) isStoreMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this subscriber wants to receive snapshots
}

func (Join) isStoreMsg() {}

type Leave struct{ ClientID string }

func (Leave) isStoreMsg() {}

type Shutdown struct{}

func (Shutdown) isStoreMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isStoreMsg() {}

// Snapshot is what subscribers receive on join and after every change.
type Snapshot struct {
	Version uint64                 `json:"version"`
	Games   []engine.Game          `json:"games"`
	Drafts  map[int]map[string]int `json:"drafts"`
}

type View struct {
	Version    uint64
	NumClients int
	Games      []engine.Game
	NumDrafts  int
}

// touch records the revision of the last local mutation of a game.
type touch struct {
	version uint64
	removed bool
}

// Store owns the ordered list of known games and the per-game score drafts.
// All state lives in the loop goroutine; every operation is a message.
type Store struct {
	inbox   chan Msg
	games   []engine.Game
	drafts  map[int]map[string]int
	touched map[int]touch
	version uint64
	clients map[string]chan Snapshot
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, log *zap.Logger, initial ...engine.Game) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Store{
		inbox:   make(chan Msg, 64),
		games:   engine.CloneGames(initial),
		drafts:  make(map[int]map[string]int),
		touched: make(map[int]touch),
		clients: make(map[string]chan Snapshot),
		log:     log.Named("store"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case List:
				reply(msg.Reply, engine.CloneGames(s.games))

			case Get:
				i := engine.IndexOf(s.games, msg.ID)
				if i < 0 {
					reply(msg.Reply, GetResult{})
					break
				}
				reply(msg.Reply, GetResult{Game: s.games[i].Clone(), Found: true})

			case ReplaceAll:
				incoming := msg.Games
				if msg.Guarded {
					incoming = s.merge(msg.Games, msg.Since)
				}
				changed := s.replace(incoming)
				reply(msg.Reply, changed)

			case Upsert:
				reply(msg.Reply, s.upsert(msg.Game))

			case FromClient:
				res := CommandResult{}
				if i := engine.IndexOf(s.games, msg.ID); i >= 0 {
					res.Found = true
					next, err := engine.Apply(s.games[i], msg.Cmd)
					if err != nil {
						res.Game, res.Err = s.games[i].Clone(), err
					} else {
						s.upsert(next)
						res.Game = next.Clone()
					}
				}
				reply(msg.Reply, res)

			case Remove:
				reply(msg.Reply, s.remove(msg.ID))

			case SetDraft:
				draft := s.drafts[msg.ID]
				if draft == nil {
					draft = make(map[string]int)
					s.drafts[msg.ID] = draft
				}
				old, had := draft[msg.Player]
				draft[msg.Player] = msg.Value
				changed := !had || old != msg.Value
				if changed {
					s.commit()
				}
				reply(msg.Reply, changed)

			case GetDraft:
				draft := maps.Clone(s.drafts[msg.ID])
				if draft == nil {
					draft = map[string]int{}
				}
				reply(msg.Reply, draft)

			case ClearDraft:
				_, had := s.drafts[msg.ID]
				delete(s.drafts, msg.ID)
				if had {
					s.commit()
				}
				reply(msg.Reply, had)

			case Join:
				// Register subscriber + send current snapshot immediately
				if msg.Outbox == nil {
					break
				}
				s.clients[msg.ClientID] = msg.Outbox
				s.deliver(msg.ClientID, msg.Outbox, s.snapshot())

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case GetState:
				// reflect internal state without data races
				reply(msg.Reply, View{
					Version:    s.version,
					NumClients: len(s.clients),
					Games:      engine.CloneGames(s.games),
					NumDrafts:  len(s.drafts),
				})

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// replace installs incoming unless it is element-wise equal to the current
// list, in which case nothing changes and nobody is notified.
func (s *Store) replace(incoming []engine.Game) bool {
	if engine.SameGames(s.games, incoming) {
		return false
	}
	s.log.Debug("games replaced", zap.Int("before", len(s.games)), zap.Int("after", len(incoming)))
	s.games = engine.CloneGames(incoming)
	s.commit()
	return true
}

// merge keeps local mutations newer than since on top of a polled list.
func (s *Store) merge(incoming []engine.Game, since uint64) []engine.Game {
	merged := make([]engine.Game, 0, len(incoming))
	seen := make(map[int]bool, len(incoming))

	for _, g := range incoming {
		seen[g.ID] = true
		t, ok := s.touched[g.ID]
		if !ok || t.version <= since {
			merged = append(merged, g)
			continue
		}
		if t.removed {
			s.log.Debug("poll skipped locally deleted game", zap.Int("game_id", g.ID))
			continue
		}
		if i := engine.IndexOf(s.games, g.ID); i >= 0 {
			merged = append(merged, s.games[i])
			continue
		}
		merged = append(merged, g)
	}

	// Inserted locally after the poll request went out.
	for _, g := range s.games {
		if seen[g.ID] {
			continue
		}
		if t, ok := s.touched[g.ID]; ok && !t.removed && t.version > since {
			merged = append(merged, g)
		}
	}

	// The server agrees these are gone.
	for id, t := range s.touched {
		if t.removed && t.version <= since && !seen[id] {
			delete(s.touched, id)
		}
	}
	return merged
}

func (s *Store) upsert(g engine.Game) bool {
	g = g.Clone()
	changed := true
	if i := engine.IndexOf(s.games, g.ID); i >= 0 {
		changed = !s.games[i].Equal(g)
		s.games[i] = g
	} else {
		s.games = append(s.games, g)
	}
	s.markTouched(g.ID, false, changed)
	return changed
}

func (s *Store) remove(id int) bool {
	changed := false
	if i := engine.IndexOf(s.games, id); i >= 0 {
		s.games = append(s.games[:i:i], s.games[i+1:]...)
		changed = true
	}
	if _, ok := s.drafts[id]; ok {
		delete(s.drafts, id)
		changed = true
	}
	s.markTouched(id, true, changed)
	return changed
}

// markTouched bumps the revision even when nothing visible changed, so an
// older poll still in flight cannot overwrite the confirmed value.
func (s *Store) markTouched(id int, removed, changed bool) {
	if changed {
		s.commit()
	} else {
		s.version++
	}
	s.touched[id] = touch{version: s.version, removed: removed}
}

func (s *Store) commit() {
	s.version++
	s.broadcast(s.snapshot())
}

func (s *Store) snapshot() Snapshot {
	drafts := make(map[int]map[string]int, len(s.drafts))
	for id, d := range s.drafts {
		drafts[id] = maps.Clone(d)
	}
	return Snapshot{Version: s.version, Games: engine.CloneGames(s.games), Drafts: drafts}
}

func (s *Store) shutdown() {
	for id, ch := range s.clients {
		close(ch) // Tell subscriber no more snapshots
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Store) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		s.deliver(id, ch, snap)
	}
}

func (s *Store) deliver(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		//ok
	default:
		// Subscriber is slow/full - drop them.
		s.log.Warn("dropping slow subscriber", zap.String("client_id", id))
		close(ch)
		delete(s.clients, id)
	}
}

// reply answers a request. A nil Reply means the sender does not want an
// answer.
func reply[T any](ch chan T, v T) {
	if ch != nil {
		ch <- v
	}
}

// Expose the inbox so tests or the ws layer can send messages.
func (s *Store) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited.
func (s *Store) Done() <-chan struct{} { return s.done }
