package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// RawGame is a game record as the remote service sends it. Only the id is
// guaranteed; every other field may be missing or carry an older shape:
//
//	id: number
//	name | title: string
//	state: "waiting" | "in_progress" | "finished"
//	players: string[]
//	score: { [player]: number } | number (legacy)
type RawGame struct {
	ID         int             `json:"id"`
	Name       string          `json:"name,omitempty"`
	Title      string          `json:"title,omitempty"`
	State      string          `json:"state"`
	MaxPlayers int             `json:"maxPlayers,omitempty"`
	Players    []string        `json:"players,omitempty"`
	Score      json.RawMessage `json:"score,omitempty"`
}

var ErrNotObject = errors.New("game record is not a JSON object")

// UnmarshalJSON decodes leniently: a field with an unexpected type is left at
// its zero value instead of failing the whole record.
func (g *RawGame) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return ErrNotObject
	}

	*g = RawGame{
		ID:         lenientInt(fields["id"]),
		Name:       lenientString(fields["name"]),
		Title:      lenientString(fields["title"]),
		State:      lenientString(fields["state"]),
		MaxPlayers: lenientInt(fields["maxPlayers"]),
		Players:    lenientStrings(fields["players"]),
	}
	if s := bytes.TrimSpace(fields["score"]); len(s) > 0 && !bytes.Equal(s, []byte("null")) {
		g.Score = append(json.RawMessage(nil), s...)
	}
	return nil
}

func lenientString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func lenientInt(raw json.RawMessage) int {
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		n, _ := IntFromFloat(f)
		return n
	}
	// Some revisions send ids as strings.
	if n, err := strconv.Atoi(lenientString(raw)); err == nil {
		return n
	}
	return 0
}

func lenientStrings(raw json.RawMessage) []string {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil || items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if bytes.HasPrefix(item, []byte(`"`)) && json.Unmarshal(item, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

// ScoreMap decodes a score field that is a JSON object of numbers. ok is false
// for any other shape (legacy single number, string, array).
func ScoreMap(raw json.RawMessage) (scores map[string]int, ok bool) {
	var entries map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil || entries == nil {
		return nil, false
	}
	scores = make(map[string]int, len(entries))
	for player, v := range entries {
		var f float64
		if json.Unmarshal(v, &f) != nil {
			continue
		}
		if n, ok := IntFromFloat(f); ok {
			scores[player] = n
		}
	}
	return scores, true
}

// IntFromFloat truncates f toward zero. ok is false for NaN, infinities and
// anything outside the int range.
func IntFromFloat(f float64) (n int, ok bool) {
	limit := math.Ldexp(1, strconv.IntSize-1)
	t := math.Trunc(f)
	if !(t >= -limit && t < limit) {
		return 0, false
	}
	return int(t), true
}
