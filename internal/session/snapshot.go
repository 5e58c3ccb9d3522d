// internal/session/snapshot.go
package session

import (
	"encoding/json"

	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/models"
)

// Snapshot is the plain data form of an Instance that travels through the group layer.
// Action values are only included once the game is finished.
type Snapshot struct {
	GroupID  string             `json:"group_id"`
	GameID   int                `json:"game_id"`
	GameName string             `json:"game_name"`
	Position int                `json:"position"`
	Terminal bool               `json:"terminal"`
	Server   models.Participant `json:"server"`
	Client   models.Participant `json:"client"`
	InfoType []models.InfoType  `json:"info_type"`
	Config   catalog.Config     `json:"config"`

	Submitted map[string]bool            `json:"submitted"`
	Actions   map[string]json.RawMessage `json:"actions,omitempty"`
	Finished  bool                       `json:"finished"`
	Scores    *catalog.Scores            `json:"scores,omitempty"`
	Totals    catalog.Scores             `json:"totals"`
}

// Snapshot captures the instance for broadcast.
func (inst *Instance) Snapshot(terminal bool) Snapshot {
	s := Snapshot{
		GroupID:  inst.GroupID,
		GameID:   inst.Game.ID,
		GameName: inst.Game.Name,
		Position: inst.Position,
		Terminal: terminal,
		Server:   inst.Server,
		Client:   inst.Client,
		InfoType: inst.InfoType,
		Config:   inst.Game.Config(),
		Submitted: map[string]bool{
			models.ServerRole.String(): inst.Submitted(models.ServerRole),
			models.ClientRole.String(): inst.Submitted(models.ClientRole),
		},
		Finished: inst.Last != nil,
		Totals:   inst.Totals,
	}
	if inst.Last != nil {
		scores := *inst.Last
		s.Scores = &scores
		s.Actions = map[string]json.RawMessage{
			models.ServerRole.String(): inst.State[inst.Server.Email],
			models.ClientRole.String(): inst.State[inst.Client.Email],
		}
	}
	return s
}

// Opponent returns the participant facing role.
func (s Snapshot) Opponent(role models.Role) models.Participant {
	if role == models.ServerRole {
		return s.Client
	}
	return s.Server
}
