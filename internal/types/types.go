package types

import "github.com/DoyleJ11/partidas/internal/engine"

// ClientMessage is what a view client sends over the websocket.
type ClientMessage struct {
	Type    string `json:"type"` // "Start" | "End" | "Delete" | "Join" | "SetScore"
	GameID  int    `json:"gameId"`
	Player  string `json:"player,omitempty"`
	Value   string `json:"value,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
}

type ServerMessage struct {
	Type    string                 `json:"type"` // "StateSnapshot" | "Error"
	Version uint64                 `json:"version,omitempty"`
	Games   []engine.Game          `json:"games,omitempty"`
	Drafts  map[int]map[string]int `json:"drafts,omitempty"`
	GameID  int                    `json:"gameId,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
