package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/api"
	"github.com/DoyleJ11/partidas/internal/creation"
	"github.com/DoyleJ11/partidas/internal/store"
)

const qrSize = 320

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps coordinator and remote errors onto view statuses.
func statusFor(err error) int {
	var se *api.StatusError
	switch {
	case errors.Is(err, action.ErrActionPending):
		return http.StatusConflict
	case errors.Is(err, action.ErrDeclined):
		return http.StatusPreconditionFailed
	case errors.Is(err, action.ErrBlankPlayer), errors.Is(err, creation.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se), errors.Is(err, api.ErrTransport), errors.Is(err, api.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func gameID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

// knownGame resolves the id in the path against the store.
func knownGame(st *store.Store, w http.ResponseWriter, r *http.Request) (int, bool) {
	id, ok := gameID(w, r)
	if !ok {
		return 0, false
	}
	if _, found := st.Get(id); !found {
		writeError(w, http.StatusNotFound, "game not found")
		return 0, false
	}
	return id, true
}

func ListGames(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, st.List())
	}
}

func GetGame(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameID(w, r)
		if !ok {
			return
		}
		g, found := st.Get(id)
		if !found {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

// CreateGame runs the whole creation workflow and answers with its result.
func CreateGame(o *creation.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var plan creation.Plan
		if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		res := o.Run(r.Context(), plan)
		status := http.StatusCreated
		if res.Err != nil {
			status = statusFor(res.Err)
		}
		writeJSON(w, status, res)
	}
}

type joinBody struct {
	Player string `json:"player"`
}

func JoinGame(st *store.Store, co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := knownGame(st, w, r)
		if !ok {
			return
		}
		var body joinBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		respond(st, w, id, co.Join(r.Context(), id, body.Player))
	}
}

func StartGame(st *store.Store, co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, ok := knownGame(st, w, r); ok {
			respond(st, w, id, co.Start(r.Context(), id))
		}
	}
}

func EndGame(st *store.Store, co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, ok := knownGame(st, w, r); ok {
			respond(st, w, id, co.End(r.Context(), id))
		}
	}
}

// DeleteGame needs ?confirm=true; without it the delete is declined.
func DeleteGame(st *store.Store, co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := knownGame(st, w, r)
		if !ok {
			return
		}
		confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
		ctx := action.WithConfirmed(r.Context(), confirmed)
		if err := co.Delete(ctx, id); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func respond(st *store.Store, w http.ResponseWriter, id int, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	g, _ := st.Get(id)
	writeJSON(w, http.StatusOK, g)
}

type scoreBody struct {
	Value json.RawMessage `json:"value"`
}

type scoreReply struct {
	Player string `json:"player"`
	Value  int    `json:"value"`
}

// SetScore accepts the value as typed, string or number.
func SetScore(st *store.Store, co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := knownGame(st, w, r)
		if !ok {
			return
		}
		player := chi.URLParam(r, "player")
		if strings.TrimSpace(player) == "" {
			writeError(w, http.StatusUnprocessableEntity, "player is required")
			return
		}
		var body scoreBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		raw := string(bytes.TrimSpace(body.Value))
		var s string
		if json.Unmarshal(body.Value, &s) == nil {
			raw = s
		}
		n := co.OnScoreChange(id, player, raw)
		writeJSON(w, http.StatusOK, scoreReply{Player: player, Value: n})
	}
}

func GetScores(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, ok := knownGame(st, w, r); ok {
			writeJSON(w, http.StatusOK, st.ScoreDraft(id))
		}
	}
}

// JoinURL is the link players open to join game id.
func JoinURL(publicURL string, id int) string {
	return strings.TrimSuffix(publicURL, "/") + "/join/" + strconv.Itoa(id)
}

// Invite renders the join link of a game as a PNG QR code.
func Invite(st *store.Store, publicURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := knownGame(st, w, r)
		if !ok {
			return
		}
		png, err := qrcode.Encode(JoinURL(publicURL, id), qrcode.Medium, qrSize)
		if err != nil {
			log.Error("qr generation failed", zap.Int("game_id", id), zap.Error(err))
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func Pending(co *action.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, co.Slots().Pending())
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
