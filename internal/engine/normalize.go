package engine

import (
	"encoding/json"
	"strconv"

	"github.com/DoyleJ11/partidas/pkg/types"
)

// Normalize turns a wire record into a canonical Game. It never fails: every
// field except the id falls back to a default.
func Normalize(raw types.RawGame) Game {
	g := Game{
		ID:      raw.ID,
		Name:    raw.Name,
		State:   State(raw.State),
		Players: append([]string{}, raw.Players...),
	}
	if g.Name == "" {
		g.Name = raw.Title
	}
	if g.Name == "" {
		g.Name = "Partida " + strconv.Itoa(raw.ID)
	}

	// A bare number is the legacy single-score shape; it has no per-player
	// meaning so it is dropped.
	if scores, ok := types.ScoreMap(raw.Score); ok {
		g.Score = scores
	} else {
		g.Score = map[string]int{}
	}
	return g
}

func NormalizeAll(raws []types.RawGame) []Game {
	out := make([]Game, len(raws))
	for i, raw := range raws {
		out[i] = Normalize(raw)
	}
	return out
}

// ToRaw is the canonical wire form of g.
func ToRaw(g Game) types.RawGame {
	score := g.Score
	if score == nil {
		score = map[string]int{}
	}
	encoded, _ := json.Marshal(score)
	return types.RawGame{
		ID:      g.ID,
		Name:    g.Name,
		State:   string(g.State),
		Players: append([]string{}, g.Players...),
		Score:   encoded,
	}
}

// DecodeGame reads a response body that may or may not be a game record.
// ok is false for empty bodies, non-objects and records without an id.
func DecodeGame(body []byte) (raw types.RawGame, ok bool) {
	if len(body) == 0 || json.Unmarshal(body, &raw) != nil || raw.ID == 0 {
		return types.RawGame{}, false
	}
	return raw, true
}
