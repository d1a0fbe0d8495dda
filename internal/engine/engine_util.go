package engine

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/DoyleJ11/partidas/pkg/types"
)

func NewGame(id int, name string, players ...string) Game {
	g := Game{
		ID:      id,
		Name:    name,
		State:   StateWaiting,
		Players: []string{},
		Score:   map[string]int{},
	}
	g.Players = append(g.Players, players...)
	return g
}

// Clone returns a deep copy so callers can never alias store-owned slices or maps.
func (g Game) Clone() Game {
	c := g
	c.Players = slices.Clone(g.Players)
	if c.Players == nil {
		c.Players = []string{}
	}
	c.Score = maps.Clone(g.Score)
	if c.Score == nil {
		c.Score = map[string]int{}
	}
	return c
}

// Equal is structural equality. nil and empty collections compare equal.
func (g Game) Equal(o Game) bool {
	return g.ID == o.ID &&
		g.Name == o.Name &&
		g.State == o.State &&
		slices.Equal(g.Players, o.Players) &&
		maps.Equal(g.Score, o.Score)
}

func CloneGames(games []Game) []Game {
	out := make([]Game, len(games))
	for i, g := range games {
		out[i] = g.Clone()
	}
	return out
}

// SameGames compares two lists element-wise by position.
func SameGames(a, b []Game) bool {
	return slices.EqualFunc(a, b, Game.Equal)
}

func IndexOf(games []Game, id int) int {
	return slices.IndexFunc(games, func(g Game) bool { return g.ID == id })
}

// ParseScore reads a score field the way the browser form did with
// Number(value) || 0: blanks, garbage, NaN, infinities and values too large
// for an int become 0 and fractions are truncated toward zero.
func ParseScore(value string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	n, _ := types.IntFromFloat(f)
	return n
}
