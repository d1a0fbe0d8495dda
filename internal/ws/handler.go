package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/store"
	"github.com/DoyleJ11/partidas/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler streams store snapshots to the client and runs the commands it
// sends through the coordinator. Failed commands come back as Error messages.
func Handler(st *store.Store, co *action.Coordinator, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan store.Snapshot, 8)
		errs := make(chan types.ServerMessage, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("client_id", clientID))

		st.Subscribe(clientID, out)
		defer st.Unsubscribe(clientID)
		clog.Debug("client subscribed")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				var msg types.ServerMessage
				select {
				case <-writeCtx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// dropped as a slow subscriber, or the store closed
						conn.Close(websocket.StatusTryAgainLater, "snapshot stream ended")
						return
					}
					msg = types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Games: snap.Games, Drafts: snap.Drafts}
				case msg = <-errs:
				}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				report(errs, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			run, ok := toAction(st, co, cm)
			if !ok {
				report(errs, types.ServerMessage{Type: "Error", GameID: cm.GameID, Error: "unknown type"})
				continue
			}

			// Draft edits stay in arrival order.
			if cm.Type == "SetScore" {
				if err := run(r.Context()); err != nil {
					report(errs, types.ServerMessage{Type: "Error", GameID: cm.GameID, Error: describe(cm, err)})
				}
				continue
			}

			// Remote calls can take a while; keep reading meanwhile. A
			// confirmed action outlives the connection that asked for it.
			go func() {
				ctx := action.WithConfirmed(context.WithoutCancel(r.Context()), cm.Confirm)
				if err := run(ctx); err != nil {
					report(errs, types.ServerMessage{Type: "Error", GameID: cm.GameID, Error: describe(cm, err)})
				}
			}()
		}
	}
}

var errUnknownGame = errors.New("game not found")

func toAction(st *store.Store, co *action.Coordinator, m types.ClientMessage) (func(context.Context) error, bool) {
	id := m.GameID
	switch m.Type {
	case "Start":
		return func(ctx context.Context) error { return co.Start(ctx, id) }, true
	case "End":
		return func(ctx context.Context) error { return co.End(ctx, id) }, true
	case "Delete":
		return func(ctx context.Context) error { return co.Delete(ctx, id) }, true
	case "Join":
		return func(ctx context.Context) error { return co.Join(ctx, id, m.Player) }, true
	case "SetScore":
		return func(context.Context) error {
			if m.Player == "" {
				return errors.New("player is required")
			}
			if _, ok := st.Get(id); !ok {
				return errUnknownGame
			}
			co.OnScoreChange(id, m.Player, m.Value)
			return nil
		}, true
	default:
		return nil, false
	}
}

func describe(m types.ClientMessage, err error) string {
	switch {
	case errors.Is(err, action.ErrActionPending):
		return "another action is pending for this game"
	case errors.Is(err, action.ErrDeclined):
		return "delete needs confirm: true"
	default:
		return fmt.Sprintf("%s failed: %v", m.Type, err)
	}
}

// report never blocks the reader; errors beyond the buffer are dropped.
func report(errs chan<- types.ServerMessage, msg types.ServerMessage) {
	select {
	case errs <- msg:
	default:
	}
}
