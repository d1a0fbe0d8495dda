package store

import "github.com/DoyleJ11/partidas/internal/engine"

// ask sends a message built around a fresh reply channel and waits for the
// answer. ok is false once the store has shut down.
func ask[T any](s *Store, build func(chan T) Msg) (v T, ok bool) {
	replyCh := make(chan T, 1)
	select {
	case s.inbox <- build(replyCh):
	case <-s.done:
		return v, false
	}
	select {
	case v = <-replyCh:
		return v, true
	case <-s.done:
		select {
		case v = <-replyCh:
			return v, true
		default:
			return v, false
		}
	}
}

// List returns the known games in their current order.
func (s *Store) List() []engine.Game {
	games, _ := ask(s, func(r chan []engine.Game) Msg { return List{Reply: r} })
	return games
}

func (s *Store) Get(id int) (engine.Game, bool) {
	res, _ := ask(s, func(r chan GetResult) Msg { return Get{ID: id, Reply: r} })
	return res.Game, res.Found
}

// ReplaceAll installs games wholesale unless they equal the current list
// position by position.
func (s *Store) ReplaceAll(games []engine.Game) bool {
	changed, _ := ask(s, func(r chan bool) Msg { return ReplaceAll{Games: games, Reply: r} })
	return changed
}

// Reconcile is ReplaceAll for a list fetched when the store was at version
// since: local upserts and removals made after that keep precedence.
func (s *Store) Reconcile(games []engine.Game, since uint64) bool {
	changed, _ := ask(s, func(r chan bool) Msg {
		return ReplaceAll{Games: games, Since: since, Guarded: true, Reply: r}
	})
	return changed
}

func (s *Store) UpsertOne(g engine.Game) bool {
	changed, _ := ask(s, func(r chan bool) Msg { return Upsert{Game: g, Reply: r} })
	return changed
}

// Apply runs a confirmed command against the stored copy of game id.
// Found is false when the game is not in the store.
func (s *Store) Apply(id int, cmd engine.Command) (engine.Game, bool, error) {
	res, _ := ask(s, func(r chan CommandResult) Msg { return FromClient{ID: id, Cmd: cmd, Reply: r} })
	return res.Game, res.Found, res.Err
}

// Remove drops the game and its score draft.
func (s *Store) Remove(id int) bool {
	changed, _ := ask(s, func(r chan bool) Msg { return Remove{ID: id, Reply: r} })
	return changed
}

func (s *Store) SetScoreDraft(id int, player string, value int) {
	ask(s, func(r chan bool) Msg { return SetDraft{ID: id, Player: player, Value: value, Reply: r} })
}

// ScoreDraft returns a copy of the draft for id, empty when none exists.
func (s *Store) ScoreDraft(id int) map[string]int {
	draft, ok := ask(s, func(r chan map[string]int) Msg { return GetDraft{ID: id, Reply: r} })
	if !ok {
		return map[string]int{}
	}
	return draft
}

func (s *Store) ClearScoreDraft(id int) {
	ask(s, func(r chan bool) Msg { return ClearDraft{ID: id, Reply: r} })
}

func (s *Store) Version() uint64 {
	return s.State().Version
}

func (s *Store) State() View {
	v, _ := ask(s, func(r chan View) Msg { return GetState{Reply: r} })
	return v
}

// Subscribe registers outbox for snapshots. The current snapshot is sent
// right away; a full outbox gets the subscriber dropped and closed.
func (s *Store) Subscribe(clientID string, outbox chan Snapshot) {
	select {
	case s.inbox <- Join{ClientID: clientID, Outbox: outbox}:
	case <-s.done:
		close(outbox)
	}
}

func (s *Store) Unsubscribe(clientID string) {
	select {
	case s.inbox <- Leave{ClientID: clientID}:
	case <-s.done:
	}
}

// Close stops the loop and waits for it to exit.
func (s *Store) Close() {
	select {
	case s.inbox <- Shutdown{}:
	case <-s.done:
	}
	<-s.done
}
