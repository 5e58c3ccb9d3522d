// internal/models/game_record.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InfoType describes which communication channels a pair may use during a game.
type InfoType string

const (
	InfoTypeInfo  InfoType = "INFO"
	InfoTypeChat  InfoType = "CHAT"
	InfoTypeVideo InfoType = "VIDEO"
)

// GameAction is one accepted submission within a game instance.
type GameAction struct {
	Sender    string          `json:"sender"`
	Role      Role            `json:"role"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// GameRecord is the durable, append-only row written when a game instance completes.
type GameRecord struct {
	ID          uuid.UUID                  `json:"id"`
	GameID      int                        `json:"game_id"`
	GameName    string                     `json:"game_name"`
	GroupID     string                     `json:"group_id"`
	ServerEmail string                     `json:"server_email"`
	ClientEmail string                     `json:"client_email"`
	InfoType    []InfoType                 `json:"info_type"`
	Actions     []GameAction               `json:"actions"`
	State       map[string]json.RawMessage `json:"state"`
	ServerScore int                        `json:"server_score"`
	ClientScore int                        `json:"client_score"`
	CreatedAt   time.Time                  `json:"created_at"`
}
