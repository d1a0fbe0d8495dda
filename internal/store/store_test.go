package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/partidas/internal/engine"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("subscriber outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func newTestStore(t *testing.T, initial ...engine.Game) *Store {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, nil, initial...)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s
}

func ids(games []engine.Game) []int {
	out := make([]int, len(games))
	for i, g := range games {
		out[i] = g.ID
	}
	return out
}

func TestStore_ReplaceAll_EqualContentIsNoop(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz", "Ana"), engine.NewGame(2, "Trivia"))
	s.SetScoreDraft(1, "Ana", 10)

	out := make(chan Snapshot, 4)
	s.Subscribe("c1", out)
	first := recvSnapshot(t, out, 100*time.Millisecond)

	changed := s.ReplaceAll([]engine.Game{engine.NewGame(1, "Quiz", "Ana"), engine.NewGame(2, "Trivia")})
	assert.False(t, changed)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	assert.Equal(t, first.Version, s.Version())
	assert.Equal(t, map[string]int{"Ana": 10}, s.ScoreDraft(1))
}

func TestStore_ReplaceAll_ReplacesWholesale(t *testing.T) {
	cases := []struct {
		name     string
		incoming []engine.Game
	}{
		{name: "field differs", incoming: []engine.Game{engine.NewGame(1, "Quiz", "Ana", "Beto"), engine.NewGame(2, "Trivia")}},
		{name: "shorter", incoming: []engine.Game{engine.NewGame(1, "Quiz", "Ana")}},
		{name: "longer", incoming: []engine.Game{engine.NewGame(1, "Quiz", "Ana"), engine.NewGame(2, "Trivia"), engine.NewGame(3, "Bingo")}},
		{name: "reordered", incoming: []engine.Game{engine.NewGame(2, "Trivia"), engine.NewGame(1, "Quiz", "Ana")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t, engine.NewGame(1, "Quiz", "Ana"), engine.NewGame(2, "Trivia"))
			out := make(chan Snapshot, 4)
			s.Subscribe("c1", out)
			before := recvSnapshot(t, out, 100*time.Millisecond)

			require.True(t, s.ReplaceAll(tc.incoming))

			next := recvSnapshot(t, out, 100*time.Millisecond)
			assert.Greater(t, next.Version, before.Version)
			assert.True(t, engine.SameGames(tc.incoming, next.Games))
			assert.True(t, engine.SameGames(tc.incoming, s.List()))
		})
	}
}

func TestStore_ReplaceAll_DoesNotAliasCaller(t *testing.T) {
	s := newTestStore(t)
	incoming := []engine.Game{engine.NewGame(1, "Quiz", "Ana")}
	s.ReplaceAll(incoming)

	incoming[0].Players[0] = "Mallory"
	listed := s.List()
	listed[0].Name = "changed"

	g, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Quiz", g.Name)
	assert.Equal(t, []string{"Ana"}, g.Players)
}

func TestStore_UpsertOne_InPlaceOrAppend(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz"), engine.NewGame(2, "Trivia"))

	started := engine.NewGame(1, "Quiz")
	started.State = engine.StateInProgress
	assert.True(t, s.UpsertOne(started))
	assert.False(t, s.UpsertOne(started), "same content twice is not a change")
	assert.True(t, s.UpsertOne(engine.NewGame(3, "Bingo")))

	games := s.List()
	assert.Equal(t, []int{1, 2, 3}, ids(games))
	assert.Equal(t, engine.StateInProgress, games[0].State)
}

func TestStore_Remove_ClearsDraft(t *testing.T) {
	s := newTestStore(t, engine.NewGame(7, "Quiz", "Ana"))
	s.SetScoreDraft(7, "Ana", 3)

	assert.True(t, s.Remove(7))
	_, ok := s.Get(7)
	assert.False(t, ok)
	assert.Empty(t, s.ScoreDraft(7))
	assert.False(t, s.Remove(7))
}

func TestStore_ScoreDrafts(t *testing.T) {
	s := newTestStore(t, engine.NewGame(7, "Quiz", "Ana", "Beto"))

	assert.NotNil(t, s.ScoreDraft(7))
	assert.Empty(t, s.ScoreDraft(7))

	s.SetScoreDraft(7, "Ana", 10)
	s.SetScoreDraft(7, "Beto", 7)
	s.SetScoreDraft(7, "Ana", 11)

	draft := s.ScoreDraft(7)
	assert.Equal(t, map[string]int{"Ana": 11, "Beto": 7}, draft)

	draft["Ana"] = 99
	assert.Equal(t, 11, s.ScoreDraft(7)["Ana"], "returned draft must be a copy")

	s.ClearScoreDraft(7)
	assert.Empty(t, s.ScoreDraft(7))
}

func TestStore_Reconcile_KeepsNewerLocalEdits(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz"), engine.NewGame(2, "Trivia"), engine.NewGame(3, "Bingo"))

	// A poll goes out now...
	since := s.Version()
	stale := s.List()

	// ...and local confirmations land before it returns.
	started := engine.NewGame(1, "Quiz")
	started.State = engine.StateInProgress
	s.UpsertOne(started)
	s.Remove(2)
	s.UpsertOne(engine.NewGame(4, "Created"))

	s.Reconcile(stale, since)

	games := s.List()
	assert.Equal(t, []int{1, 3, 4}, ids(games))
	assert.Equal(t, engine.StateInProgress, games[0].State)

	// The next poll sees the server caught up and wins again.
	fresh := []engine.Game{engine.NewGame(1, "Quiz"), engine.NewGame(3, "Bingo")}
	fresh[0].State = engine.StateFinished
	s.Reconcile(fresh, s.Version())
	games = s.List()
	assert.Equal(t, []int{1, 3}, ids(games))
	assert.Equal(t, engine.StateFinished, games[0].State)
}

func TestStore_Reconcile_RemovedGameStaysGoneUntilServerAgrees(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz"))
	since := s.Version()
	s.Remove(1)

	assert.False(t, s.Reconcile([]engine.Game{engine.NewGame(1, "Quiz")}, since))
	assert.Empty(t, s.List())

	// Server confirms the deletion; tombstone is pruned and a later
	// re-creation with the same id is accepted.
	s.Reconcile(nil, s.Version())
	s.Reconcile([]engine.Game{engine.NewGame(1, "Again")}, s.Version())
	assert.Equal(t, []int{1}, ids(s.List()))
}

func TestStore_UnguardedReplaceAllClobbersLocalEdits(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz"))
	stale := s.List()

	started := engine.NewGame(1, "Quiz")
	started.State = engine.StateInProgress
	s.UpsertOne(started)

	assert.True(t, s.ReplaceAll(stale))
	g, _ := s.Get(1)
	assert.Equal(t, engine.StateWaiting, g.State)
}

func TestStore_DropSlowSubscriber(t *testing.T) {
	s := newTestStore(t, engine.NewGame(1, "Quiz"))

	out := make(chan Snapshot, 1)
	s.Subscribe("c1", out)
	s.UpsertOne(engine.NewGame(2, "Trivia"))

	view := s.State()
	assert.Equal(t, 0, view.NumClients, "slow subscriber should be dropped")
}

func TestStore_LeaveClosesOutbox(t *testing.T) {
	s := newTestStore(t)
	out := make(chan Snapshot, 2)
	s.Subscribe("c1", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	s.Unsubscribe("c1")
	recvNoSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 0, s.State().NumClients)
}

func TestStore_ClosedStoreIsInert(t *testing.T) {
	s := New(context.Background(), nil, engine.NewGame(1, "Quiz"))
	out := make(chan Snapshot, 2)
	s.Subscribe("c1", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	s.Close()

	_, open := <-out
	assert.False(t, open, "subscribers are closed on shutdown")
	assert.Nil(t, s.List())
	assert.False(t, s.UpsertOne(engine.NewGame(2, "Trivia")))
	assert.Empty(t, s.ScoreDraft(1))
}

func TestStore_Apply_ConfirmedCommand(t *testing.T) {
	s := newTestStore(t, engine.NewGame(7, "Quiz", "Ana", "Beto"))

	out := make(chan Snapshot, 4)
	s.Subscribe("c1", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	g, found, err := s.Apply(7, engine.Command{Type: engine.CmdStart})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, engine.StateInProgress, g.State)

	next := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, engine.StateInProgress, next.Games[0].State)

	_, found, err = s.Apply(99, engine.Command{Type: engine.CmdStart})
	assert.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Apply(7, engine.Command{Type: engine.CmdJoin, Player: "Ana"})
	assert.True(t, found)
	assert.ErrorIs(t, err, engine.ErrAlreadyJoined)
}

func TestStore_FromClientViaInbox(t *testing.T) {
	s := newTestStore(t, engine.NewGame(7, "Quiz", "Ana"))

	// fire-and-forget, no reply channel
	s.Inbox() <- FromClient{ID: 7, Cmd: engine.Command{Type: engine.CmdJoin, Player: "Beto"}}

	g, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, []string{"Ana", "Beto"}, g.Players)
}

func TestStore_InboxMessagesWithoutReply(t *testing.T) {
	s := newTestStore(t, engine.NewGame(7, "Quiz", "Ana"))

	s.Inbox() <- List{}
	s.Inbox() <- Get{ID: 7}
	s.Inbox() <- GetDraft{ID: 7}
	s.Inbox() <- GetState{}
	s.Inbox() <- Join{ClientID: "nobody"}

	done := make(chan struct{})
	go func() {
		s.UpsertOne(engine.NewGame(8, "Trivia"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("store loop is stuck after messages without a reply channel")
	}
	assert.Len(t, s.List(), 2)
	assert.Zero(t, s.State().NumClients)
}
