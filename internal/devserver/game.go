// Package devserver is a small stand-in for the remote game-management
// service, with just enough rules to exercise the client end to end.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/DoyleJ11/partidas/pkg/types"
)

const (
	StateWaiting    = "waiting"
	StateInProgress = "in_progress"
	StateFinished   = "finished"
)

var (
	ErrNotFound   = errors.New("game not found")
	ErrWrongState = errors.New("game is not in the required state")
	ErrFull       = errors.New("game is full")
	ErrDuplicate  = errors.New("player already joined")
	ErrBlankName  = errors.New("player name is blank")
)

// Game is the service-side record.
type Game struct {
	ID         int
	Name       string
	State      string
	MaxPlayers int
	Players    []string
	Score      map[string]int
}

// Repository persists games. Update runs fn against the current record and
// stores the result atomically; an error from fn leaves the record as it was.
type Repository interface {
	List(ctx context.Context) ([]Game, error)
	Create(ctx context.Context, g Game) (Game, error)
	Update(ctx context.Context, id int, fn func(*Game) error) (Game, error)
	Delete(ctx context.Context, id int) error
}

func NewGame(name string, maxPlayers int, creator string) (Game, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return Game{}, ErrBlankName
	}
	return Game{
		Name:       name,
		State:      StateWaiting,
		MaxPlayers: maxPlayers,
		Players:    []string{creator},
		Score:      map[string]int{},
	}, nil
}

func (g *Game) Join(player string) error {
	player = strings.TrimSpace(player)
	switch {
	case player == "":
		return ErrBlankName
	case g.State != StateWaiting:
		return fmt.Errorf("join: %w", ErrWrongState)
	case slices.Contains(g.Players, player):
		return ErrDuplicate
	case g.MaxPlayers > 0 && len(g.Players) >= g.MaxPlayers:
		return ErrFull
	}
	g.Players = append(g.Players, player)
	return nil
}

func (g *Game) Start() error {
	if g.State != StateWaiting {
		return fmt.Errorf("start: %w", ErrWrongState)
	}
	g.State = StateInProgress
	return nil
}

// End finishes the game. Scores for names that are not players are dropped.
func (g *Game) End(score map[string]int) error {
	if g.State != StateInProgress {
		return fmt.Errorf("end: %w", ErrWrongState)
	}
	g.State = StateFinished
	g.Score = make(map[string]int, len(score))
	for player, points := range score {
		if slices.Contains(g.Players, player) {
			g.Score[player] = points
		}
	}
	return nil
}

func (g Game) clone() Game {
	g.Players = slices.Clone(g.Players)
	g.Score = maps.Clone(g.Score)
	if g.Players == nil {
		g.Players = []string{}
	}
	if g.Score == nil {
		g.Score = map[string]int{}
	}
	return g
}

// Wire renders the record in the current shape, or in the older one with a
// title and a single numeric score when legacy is set.
func (g Game) Wire(legacy bool) types.RawGame {
	raw := types.RawGame{ID: g.ID, State: g.State, MaxPlayers: g.MaxPlayers, Players: g.Players}
	if raw.Players == nil {
		raw.Players = []string{}
	}
	if legacy {
		raw.Title = g.Name
		total := 0
		for _, points := range g.Score {
			total += points
		}
		raw.Score, _ = json.Marshal(total)
		return raw
	}
	raw.Name = g.Name
	score := g.Score
	if score == nil {
		score = map[string]int{}
	}
	raw.Score, _ = json.Marshal(score)
	return raw
}
