package types

// Client -> remote game service request bodies.
//
// POST /games
//   name: string
//   maxPlayers: number
//   playerName: string   (first player, owner of the game)
//
// POST /games/{id}/join
//   playerName: string
//
// PATCH /games/{id}/end
//   score: { [player]: number }

type CreateGameRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	PlayerName string `json:"playerName"`
}

type JoinRequest struct {
	PlayerName string `json:"playerName"`
}

type EndRequest struct {
	Score map[string]int `json:"score"`
}

// ErrorResponse is what the dev server writes on non-2xx replies. Clients must not rely on it.
type ErrorResponse struct {
	Error string `json:"error"`
}
