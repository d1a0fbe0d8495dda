package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/pkg/types"
)

type Server struct {
	repo   Repository
	legacy bool
	log    *zap.Logger
}

// NewServer serves repo. With legacy set, records go out in the older shape
// and join answers with a plain acknowledgement instead of the game.
func NewServer(repo Repository, legacy bool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{repo: repo, legacy: legacy, log: log.Named("devserver")}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/games", s.listGames)
	r.Post("/games", s.createGame)
	r.Post("/games/{id}/join", s.joinGame)
	r.Patch("/games/{id}/start", s.startGame)
	r.Patch("/games/{id}/end", s.endGame)
	r.Delete("/games/{id}", s.deleteGame)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrBlankName):
		status = http.StatusBadRequest
	case errors.Is(err, ErrWrongState), errors.Is(err, ErrFull), errors.Is(err, ErrDuplicate):
		status = http.StatusConflict
	default:
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, types.ErrorResponse{Error: err.Error()})
}

func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id > 0
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.repo.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]types.RawGame, len(games))
	for i, g := range games {
		out[i] = g.Wire(s.legacy)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	var req types.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
		return
	}
	g, err := NewGame(req.Name, req.MaxPlayers, req.PlayerName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, err = s.repo.Create(r.Context(), g)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("game created", zap.Int("game_id", g.ID), zap.String("name", g.Name))
	s.writeJSON(w, http.StatusCreated, g.Wire(s.legacy))
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
		return
	}
	g, ok := s.update(w, r, func(g *Game) error { return g.Join(req.PlayerName) })
	if !ok {
		return
	}
	if s.legacy {
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "joined"})
		return
	}
	s.writeJSON(w, http.StatusOK, g.Wire(false))
}

func (s *Server) startGame(w http.ResponseWriter, r *http.Request) {
	if g, ok := s.update(w, r, (*Game).Start); ok {
		s.writeJSON(w, http.StatusOK, g.Wire(s.legacy))
	}
}

func (s *Server) endGame(w http.ResponseWriter, r *http.Request) {
	var req types.EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
		return
	}
	if g, ok := s.update(w, r, func(g *Game) error { return g.End(req.Score) }); ok {
		s.writeJSON(w, http.StatusOK, g.Wire(s.legacy))
	}
}

func (s *Server) deleteGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, ErrNotFound)
		return
	}
	if err := s.repo.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, fn func(*Game) error) (Game, bool) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, ErrNotFound)
		return Game{}, false
	}
	g, err := s.repo.Update(r.Context(), id, fn)
	if err != nil {
		s.writeError(w, err)
		return Game{}, false
	}
	return g, true
}
