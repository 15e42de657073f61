package models

// Table names carried by change notifications.
const (
	TableRooms        = "rooms"
	TablePlayers      = "players"
	TablePlayerImages = "player_images"
	TableRounds       = "rounds"
	TableSubmissions  = "submissions"
	TableVotes        = "votes"
)

// Change operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// Change is a row-level change notification. Consumers must treat it as a
// hint to re-read state: delivery is at-least-once and unordered.
type Change struct {
	Table    string `json:"table"`
	Op       string `json:"op"`
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	RoundID  string `json:"round_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
}
