package engine

import (
	"errors"
	"maps"
	"slices"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrEmptyPlayer = errors.New("player name is empty")
var ErrAlreadyJoined = errors.New("player already in game")

type State string

const (
	StateWaiting    State = "waiting"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
)

// Game is the canonical, normalized game record held by the client.
type Game struct {
	ID      int            `json:"id"`
	Name    string         `json:"name"`
	State   State          `json:"state"`
	Players []string       `json:"players"`
	Score   map[string]int `json:"score"`
}

type CommandType string

const (
	CmdStart CommandType = "Start"
	CmdEnd   CommandType = "End"
	CmdJoin  CommandType = "Join"
)

/*
	CmdStart -> state in_progress
	CmdEnd   -> state finished, score replaced by the submitted mapping
	CmdJoin  -> player appended to the roster

	Transitions are applied after the remote service confirmed them, so the
	current state is not checked: the server owns the rules.
*/

type Command struct {
	Type   CommandType
	Player string
	Score  map[string]int
}

// Apply returns a copy of g with the confirmed command applied.
func Apply(g Game, cmd Command) (Game, error) {
	next := g.Clone()

	switch cmd.Type {
	case CmdStart, CmdEnd:
		next.State = Transitions[cmd.Type]
		if cmd.Type == CmdEnd {
			next.Score = maps.Clone(cmd.Score)
			if next.Score == nil {
				next.Score = map[string]int{}
			}
		}
		return next, nil

	case CmdJoin:
		if cmd.Player == "" {
			return g, ErrEmptyPlayer
		}
		if slices.Contains(next.Players, cmd.Player) {
			return g, ErrAlreadyJoined
		}
		next.Players = append(next.Players, cmd.Player)
		return next, nil

	default:
		return g, ErrUnsupportedCommand
	}
}
