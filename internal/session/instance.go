// internal/session/instance.go
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/models"
)

// ErrUnknownRole is returned when an action carries neither the server nor the client role.
var ErrUnknownRole = errors.New("session: unknown role")

// Phase is the lifecycle state of one game instance.
type Phase int

const (
	AwaitingActions Phase = iota
	Complete
	Persisted
	Advanced
	SessionEnded
)

func (p Phase) String() string {
	switch p {
	case AwaitingActions:
		return "awaiting_actions"
	case Complete:
		return "complete"
	case Persisted:
		return "persisted"
	case Advanced:
		return "advanced"
	case SessionEnded:
		return "session_ended"
	}
	return "unknown"
}

// Instance is one round of one catalog game for one pair. It is owned by the
// server-role connection and never shared between goroutines.
type Instance struct {
	GroupID  string
	Position int
	Game     catalog.Definition
	Server   models.Participant
	Client   models.Participant
	InfoType []models.InfoType

	Actions []models.GameAction
	State   map[string]json.RawMessage

	// Totals are the cumulative scores of the session, including this game once finished.
	Totals catalog.Scores
	Last   *catalog.Scores
	Phase  Phase

	StartedAt time.Time
}

func newInstance(group string, pos int, def catalog.Definition, server, client models.Participant, info []models.InfoType, totals catalog.Scores, now time.Time) *Instance {
	return &Instance{
		GroupID:   group,
		Position:  pos,
		Game:      def,
		Server:    server,
		Client:    client,
		InfoType:  def.InfoType(info),
		State:     make(map[string]json.RawMessage, 2),
		Totals:    totals,
		Phase:     AwaitingActions,
		StartedAt: now,
	}
}

func (inst *Instance) participant(role models.Role) (models.Participant, error) {
	switch role {
	case models.ServerRole:
		return inst.Server, nil
	case models.ClientRole:
		return inst.Client, nil
	}
	return models.Participant{}, ErrUnknownRole
}

// Submit records role's action. A second submission for the same participant, or
// any submission after completion, is dropped and reported as not accepted.
func (inst *Instance) Submit(role models.Role, action json.RawMessage, at time.Time) (bool, error) {
	p, err := inst.participant(role)
	if err != nil {
		return false, err
	}
	if inst.Phase != AwaitingActions {
		return false, nil
	}
	if _, done := inst.State[p.Email]; done {
		return false, nil
	}
	if len(action) == 0 || !json.Valid(action) || string(action) == "null" {
		action = inst.Game.Default
	}
	stored := append(json.RawMessage(nil), action...)
	inst.State[p.Email] = stored
	inst.Actions = append(inst.Actions, models.GameAction{
		Sender:    p.Email,
		Role:      role,
		Data:      stored,
		Timestamp: at,
	})
	return true, nil
}

// Submitted reports whether role has acted.
func (inst *Instance) Submitted(role models.Role) bool {
	p, err := inst.participant(role)
	if err != nil {
		return false
	}
	_, ok := inst.State[p.Email]
	return ok
}

// Complete reports whether both roles have acted.
func (inst *Instance) Complete() bool {
	return inst.Submitted(models.ServerRole) && inst.Submitted(models.ClientRole)
}

// Score applies the game's scoring rule to the recorded actions.
func (inst *Instance) Score() catalog.Scores {
	return inst.Game.Score(inst.State[inst.Server.Email], inst.State[inst.Client.Email])
}

// finish scores the instance once and folds the result into Totals.
func (inst *Instance) finish() catalog.Scores {
	if inst.Last != nil {
		return *inst.Last
	}
	s := inst.Score()
	inst.Last = &s
	inst.Totals = inst.Totals.Add(s)
	inst.Phase = Complete
	return s
}

// Record renders the durable record of a finished instance.
func (inst *Instance) Record(now time.Time) models.GameRecord {
	var last catalog.Scores
	if inst.Last != nil {
		last = *inst.Last
	}
	state := make(map[string]json.RawMessage, len(inst.State))
	for k, v := range inst.State {
		state[k] = v
	}
	return models.GameRecord{
		ID:          uuid.New(),
		GameID:      inst.Game.ID,
		GameName:    inst.Game.Name,
		GroupID:     inst.GroupID,
		ServerEmail: inst.Server.Email,
		ClientEmail: inst.Client.Email,
		InfoType:    inst.InfoType,
		Actions:     append([]models.GameAction(nil), inst.Actions...),
		State:       state,
		ServerScore: last.Server,
		ClientScore: last.Client,
		CreatedAt:   now,
	}
}
