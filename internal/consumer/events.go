// internal/consumer/events.go
package consumer

import (
	"encoding/json"

	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/jason-s-yu/dyad/internal/session"
)

// Inbound message types sent by clients.
const (
	MsgRetryMatching = "retry_matching"
	MsgGameUpdate    = "game_update"
	MsgChat          = "chat"
	MsgMediaOffer    = "web_rtc_media_offer"
	MsgMediaAnswer   = "web_rtc_media_answer"
	MsgIceCandidate  = "web_rtc_ice_candidate"
	MsgRemoteImage   = "remote_image_uri"
)

// Outbound event types sent to clients.
const (
	EventGameStart        = "game_start"
	EventGameUpdate       = "game_update"
	EventPlayerDisconnect = "player_disconnect"
	EventSessionEnd       = "session_end"
	EventRemoteCandidate  = "remote_peer_ice_candidate"
)

// Envelope types that only travel through the channel layer.
const (
	envPair         = "pair"
	envPairDeclined = "pair_declined"
	envGameStart    = "game_start"
	envClientAction = "client_action"
	envGameUpdate   = "game_update"
	envSessionEnd   = "session_end"
	envDisconnect   = "player_disconnect"
)

// Event is the {type, data} envelope written to a client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ScorePair is a score from one connection's point of view.
type ScorePair struct {
	Self     int `json:"self"`
	Opponent int `json:"opponent"`
}

func scorePair(s catalog.Scores, role models.Role) ScorePair {
	own, opp := s.For(role)
	return ScorePair{Self: own, Opponent: opp}
}

// GameStartData is the payload of game_start.
type GameStartData struct {
	IsServer bool                 `json:"is_server"`
	InfoType []models.InfoType    `json:"info_type"`
	GameID   int                  `json:"game_id"`
	GameName string               `json:"game_name"`
	Position int                  `json:"position"`
	Terminal bool                 `json:"terminal"`
	Opponent models.PublicProfile `json:"opponent"`
	Config   catalog.Config       `json:"config"`
	Scores   ScorePair            `json:"scores"`
}

// LastEvent names the action that produced a game_update.
type LastEvent struct {
	Type string      `json:"type"`
	Role models.Role `json:"role"`
	Self bool        `json:"self"`
}

// GameUpdateData is the payload of game_update. Actions is only set once finished.
type GameUpdateData struct {
	GameID    int                        `json:"game_id"`
	LastEvent LastEvent                  `json:"last_event"`
	State     map[string]bool            `json:"state"`
	Actions   map[string]json.RawMessage `json:"actions,omitempty"`
	Finished  bool                       `json:"finished"`
	Scores    *ScorePair                 `json:"scores,omitempty"`
	Totals    ScorePair                  `json:"totals"`
}

// DisconnectData is the payload of player_disconnect.
type DisconnectData struct {
	Opponent models.PublicProfile `json:"opponent"`
}

// SessionEndData is the payload of session_end.
type SessionEndData struct {
	Totals ScorePair `json:"totals"`
}

type pairMsg struct {
	Group           string             `json:"group"`
	Role            models.Role        `json:"role"`
	Opponent        models.Participant `json:"opponent"`
	OpponentChannel string             `json:"opponent_channel"`
	InfoType        []models.InfoType  `json:"info_type"`
}

type pairDeclinedMsg struct {
	Group string `json:"group"`
}

type updateMsg struct {
	Snapshot  session.Snapshot `json:"snapshot"`
	LastEvent LastEvent        `json:"last_event"`
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
