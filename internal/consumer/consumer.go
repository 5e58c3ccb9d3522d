// internal/consumer/consumer.go
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/channels"
	"github.com/jason-s-yu/dyad/internal/matchmaking"
	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/jason-s-yu/dyad/internal/presence"
	"github.com/jason-s-yu/dyad/internal/session"
	"github.com/sirupsen/logrus"
)

// StatusExperimentComplete closes both connections after the terminal game.
const StatusExperimentComplete websocket.StatusCode = 4000

// cleanupTimeout bounds the disconnect work Run does after its context ends.
const cleanupTimeout = 5 * time.Second

// Transport is the client side of one connection.
type Transport interface {
	// Emit queues ev for the client without blocking.
	Emit(ev Event)
	// Close flushes queued events and closes the connection.
	Close(code websocket.StatusCode, reason string)
}

// Deps are the shared collaborators of every consumer.
type Deps struct {
	Layer     channels.Layer
	Registry  *presence.Registry
	Matcher   *matchmaking.Matcher
	Sequencer *session.Sequencer
	InfoType  []models.InfoType
	Logger    *logrus.Logger
}

// Consumer coordinates one connection: lobby presence, pairing, game traffic and
// signaling relay. All of its methods must be called from a single goroutine.
type Consumer struct {
	ID          string
	Participant models.Participant

	deps  Deps
	out   Transport
	log   *logrus.Entry
	inbox <-chan channels.Envelope

	group        string
	role         models.Role
	opponent     models.Participant
	opponentChan string
	infoType     []models.InfoType

	// inst is only held by the server role.
	inst   *session.Instance
	totals catalog.Scores
	ended  bool
}

func New(id string, p models.Participant, deps Deps, out Transport) *Consumer {
	c := &Consumer{
		ID:          id,
		Participant: p,
		deps:        deps,
		out:         out,
	}
	c.log = c.baseLog()
	return c
}

func (c *Consumer) baseLog() *logrus.Entry {
	return logrus.NewEntry(c.deps.Logger).WithFields(logrus.Fields{
		"conn":        c.ID,
		"participant": c.Participant.Email,
	})
}

// Inbox is the channel-layer inbox of this connection.
func (c *Consumer) Inbox() <-chan channels.Envelope {
	return c.inbox
}

// Group is the current session group, empty while idle.
func (c *Consumer) Group() string {
	return c.group
}

// Role is the role held in the current group.
func (c *Consumer) Role() models.Role {
	return c.role
}

// retryOnce treats a first failure as transient.
func retryOnce(op func() error) error {
	if err := op(); err != nil {
		return op()
	}
	return nil
}

// Connect registers the connection with the layer, admits it to the lobby and
// attempts a pairing.
func (c *Consumer) Connect(ctx context.Context) error {
	err := retryOnce(func() error {
		inbox, err := c.deps.Layer.Subscribe(ctx, c.ID)
		if err != nil {
			return err
		}
		c.inbox = inbox
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := c.admit(ctx); err != nil {
		_ = c.deps.Layer.Unsubscribe(ctx, c.ID)
		return err
	}
	c.tryPair(ctx)
	return nil
}

func (c *Consumer) admit(ctx context.Context) error {
	err := retryOnce(func() error {
		_, err := c.deps.Registry.Admit(ctx, c.ID, c.Participant)
		return err
	})
	if err != nil {
		return fmt.Errorf("admit to lobby: %w", err)
	}
	c.log.Debug("admitted to lobby")
	return nil
}

// tryPair does nothing unless the connection is idle.
func (c *Consumer) tryPair(ctx context.Context) {
	if c.group != "" || c.ended {
		return
	}
	opp, ok := c.deps.Matcher.Pair(ctx, c.ID, c.Participant)
	if !ok {
		c.log.Debug("no opponent available")
		return
	}

	group := uuid.NewString()
	if err := c.formGroup(ctx, group, opp); err != nil {
		c.log.Warnf("failed to form group with %s: %v", opp.ConnID, err)
		// put both back so either can pair again
		_, _ = c.deps.Registry.Admit(ctx, opp.ConnID, opp.Participant)
		_ = c.admit(ctx)
		_ = c.deps.Layer.GroupDiscard(ctx, group, c.ID)
		_ = c.deps.Layer.GroupDiscard(ctx, group, opp.ConnID)
		return
	}

	c.joinGroup(group, models.ServerRole, opp.Participant, opp.ConnID, c.deps.InfoType)
	c.log.Infof("paired with %s", opp.Participant.Email)

	notice, err := channels.NewEnvelope(envPair, c.ID, pairMsg{
		Group:           group,
		Role:            models.ClientRole,
		Opponent:        c.Participant,
		OpponentChannel: c.ID,
		InfoType:        c.infoType,
	})
	if err != nil {
		c.log.Errorf("pair envelope: %v", err)
		return
	}
	if err := c.deps.Layer.Send(ctx, opp.ConnID, notice); err != nil {
		// the opponent left after being claimed
		c.log.Warnf("failed to notify %s of pairing: %v", opp.ConnID, err)
		c.leaveGroup(ctx)
		_ = c.deps.Layer.GroupDiscard(ctx, group, opp.ConnID)
		if errors.Is(err, channels.ErrNoSuchChannel) {
			if err := c.admit(ctx); err == nil {
				c.tryPair(ctx)
			}
		}
		return
	}

	inst, err := c.deps.Sequencer.Start(group, c.Participant, opp.Participant, c.infoType)
	if err != nil {
		c.log.Errorf("start first game: %v", err)
		return
	}
	c.inst = inst
	c.broadcastStart(ctx, inst)
}

func (c *Consumer) formGroup(ctx context.Context, group string, opp presence.Entry) error {
	if err := c.deps.Layer.GroupAdd(ctx, group, c.ID); err != nil {
		return err
	}
	return c.deps.Layer.GroupAdd(ctx, group, opp.ConnID)
}

func (c *Consumer) joinGroup(group string, role models.Role, opp models.Participant, oppChan string, info []models.InfoType) {
	c.group = group
	c.role = role
	c.opponent = opp
	c.opponentChan = oppChan
	c.infoType = info
	c.totals = catalog.Scores{}
	c.log = c.log.WithField("group", group)
}

func (c *Consumer) leaveGroup(ctx context.Context) {
	if c.group == "" {
		return
	}
	if err := c.deps.Layer.GroupDiscard(ctx, c.group, c.ID); err != nil {
		c.log.Warnf("group discard: %v", err)
	}
	c.group = ""
	c.role = models.NoRole
	c.opponent = models.Participant{}
	c.opponentChan = ""
	c.inst = nil
	c.log = c.baseLog()
}

func (c *Consumer) groupSend(ctx context.Context, typ string, data interface{}) {
	env, err := channels.NewEnvelope(typ, c.ID, data)
	if err != nil {
		c.log.Errorf("%s envelope: %v", typ, err)
		return
	}
	if err := c.deps.Layer.GroupSend(ctx, c.group, env); err != nil {
		c.log.Warnf("group send %s: %v", typ, err)
	}
}

func (c *Consumer) broadcastStart(ctx context.Context, inst *session.Instance) {
	c.log.Infof("starting %s", inst.Game.Name)
	c.groupSend(ctx, envGameStart, inst.Snapshot(c.deps.Sequencer.IsTerminal(inst)))
}

// Receive handles one raw message from the client.
func (c *Consumer) Receive(ctx context.Context, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warnf("invalid json from client: %v", err)
		return
	}
	c.log.Debugf("received %s", msg.Type)

	switch msg.Type {
	case MsgRetryMatching:
		if c.group == "" {
			// a pairing may already be waiting; it has taken us out of the lobby
			c.drainPendingPair(ctx)
		}
		if c.group != "" || c.ended {
			return
		}
		if err := c.admit(ctx); err != nil {
			c.log.Warnf("retry matching: %v", err)
			return
		}
		c.tryPair(ctx)
	case MsgGameUpdate:
		c.submit(ctx, msg.Data)
	case MsgChat, MsgMediaOffer, MsgMediaAnswer, MsgRemoteImage:
		c.relay(ctx, msg.Type, raw)
	case MsgIceCandidate:
		c.relay(ctx, EventRemoteCandidate, raw)
	default:
		c.log.Debugf("ignoring unknown message type %q", msg.Type)
	}
}

// submit routes an action to the server role, the only writer of game state.
func (c *Consumer) submit(ctx context.Context, action json.RawMessage) {
	if c.group == "" || c.ended {
		return
	}
	if c.role == models.ServerRole {
		c.apply(ctx, models.ServerRole, action)
		return
	}
	env := channels.Envelope{Type: envClientAction, Sender: c.ID, Data: action}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	if err := c.deps.Layer.Send(ctx, c.opponentChan, env); err != nil {
		c.log.Warnf("forward action to server: %v", err)
	}
}

// apply records an action on the instance held by this server-role connection.
func (c *Consumer) apply(ctx context.Context, role models.Role, action json.RawMessage) {
	inst := c.inst
	if inst == nil {
		return
	}
	accepted, err := inst.Submit(role, action, c.deps.Sequencer.Now())
	if err != nil {
		c.log.Warnf("submit: %v", err)
		return
	}
	if !accepted {
		c.log.Debugf("dropped duplicate %s action for %s", role, inst.Game.Name)
		return
	}

	last := LastEvent{Type: "action", Role: role}
	if !inst.Complete() {
		c.groupSend(ctx, envGameUpdate, updateMsg{
			Snapshot:  inst.Snapshot(c.deps.Sequencer.IsTerminal(inst)),
			LastEvent: last,
		})
		return
	}

	out, err := c.deps.Sequencer.Complete(ctx, inst, c.infoType)
	if err != nil {
		c.log.Errorf("complete %s: %v", inst.Game.Name, err)
		return
	}
	c.log.Infof("finished %s with %+v", inst.Game.Name, *out.Finished.Scores)
	c.groupSend(ctx, envGameUpdate, updateMsg{Snapshot: out.Finished, LastEvent: last})

	if out.Ended {
		c.inst = nil
		c.groupSend(ctx, envSessionEnd, nil)
		return
	}
	c.inst = out.Next
	c.broadcastStart(ctx, out.Next)
}

// Deliver handles one envelope from the channel layer.
func (c *Consumer) Deliver(ctx context.Context, env channels.Envelope) {
	switch env.Type {
	case envPair:
		var m pairMsg
		if err := env.Decode(&m); err != nil {
			c.log.Warnf("bad pair envelope: %v", err)
			return
		}
		if c.group != "" || c.ended {
			c.log.Warnf("already in group %s, declining pairing into %s", c.group, m.Group)
			c.declinePair(ctx, env.Sender, m.Group)
			return
		}
		// a retry may have re-admitted us after the claim
		if err := c.deps.Registry.Remove(ctx, c.ID); err != nil {
			c.log.Warnf("remove from lobby: %v", err)
		}
		c.joinGroup(m.Group, m.Role, m.Opponent, m.OpponentChannel, m.InfoType)
		c.log.Infof("paired with %s", m.Opponent.Email)

	case envPairDeclined:
		var m pairDeclinedMsg
		if err := env.Decode(&m); err != nil || c.group == "" || m.Group != c.group || env.Sender != c.opponentChan {
			return
		}
		c.log.Infof("%s declined the pairing", c.opponent.Email)
		c.out.Emit(Event{Type: EventPlayerDisconnect, Data: DisconnectData{Opponent: c.opponent.Public()}})
		if err := c.deps.Layer.GroupDiscard(ctx, c.group, env.Sender); err != nil {
			c.log.Warnf("group discard: %v", err)
		}
		c.leaveGroup(ctx)
		if err := c.admit(ctx); err != nil {
			c.log.Warnf("return to lobby: %v", err)
			return
		}
		c.tryPair(ctx)

	case envGameStart:
		var snap session.Snapshot
		if err := env.Decode(&snap); err != nil || snap.GroupID != c.group {
			return
		}
		c.out.Emit(Event{Type: EventGameStart, Data: GameStartData{
			IsServer: c.role == models.ServerRole,
			InfoType: snap.InfoType,
			GameID:   snap.GameID,
			GameName: snap.GameName,
			Position: snap.Position,
			Terminal: snap.Terminal,
			Opponent: snap.Opponent(c.role).Public(),
			Config:   snap.Config,
			Scores:   scorePair(c.totals, c.role),
		}})

	case envClientAction:
		if c.role != models.ServerRole || env.Sender != c.opponentChan {
			return
		}
		c.apply(ctx, models.ClientRole, env.Data)

	case envGameUpdate:
		var m updateMsg
		if err := env.Decode(&m); err != nil || m.Snapshot.GroupID != c.group {
			return
		}
		c.emitUpdate(m)

	case envSessionEnd:
		if c.group == "" || (env.Sender != c.ID && env.Sender != c.opponentChan) {
			return
		}
		c.ended = true
		c.out.Emit(Event{Type: EventSessionEnd, Data: SessionEndData{Totals: scorePair(c.totals, c.role)}})
		c.log.Info("experiment complete")
		c.out.Close(StatusExperimentComplete, "experiment complete")

	case envDisconnect:
		if env.Sender == c.ID || c.group == "" || env.Sender != c.opponentChan {
			return
		}
		c.log.Infof("opponent %s disconnected", c.opponent.Email)
		c.out.Emit(Event{Type: EventPlayerDisconnect, Data: DisconnectData{Opponent: c.opponent.Public()}})
		// the unfinished game is abandoned, never persisted
		c.leaveGroup(ctx)

	default:
		if isRelayed(env.Type) {
			if c.group == "" || env.Sender != c.opponentChan {
				return
			}
			c.out.Emit(Event{Type: env.Type, Data: env.Data})
			return
		}
		c.log.Debugf("ignoring envelope %q", env.Type)
	}
}

// declinePair tells a late claimer that this connection is taken, so it can
// return to the lobby instead of waiting on a peer that never joins.
func (c *Consumer) declinePair(ctx context.Context, claimer, group string) {
	if err := c.deps.Layer.GroupDiscard(ctx, group, c.ID); err != nil {
		c.log.Warnf("group discard: %v", err)
	}
	env, err := channels.NewEnvelope(envPairDeclined, c.ID, pairDeclinedMsg{Group: group})
	if err != nil {
		c.log.Errorf("pair_declined envelope: %v", err)
		return
	}
	if err := c.deps.Layer.Send(ctx, claimer, env); err != nil {
		c.log.Warnf("decline pairing from %s: %v", claimer, err)
	}
}

func (c *Consumer) emitUpdate(m updateMsg) {
	snap := m.Snapshot
	data := GameUpdateData{
		GameID:    snap.GameID,
		LastEvent: m.LastEvent,
		State:     snap.Submitted,
		Finished:  snap.Finished,
	}
	data.LastEvent.Self = m.LastEvent.Role == c.role
	if snap.Finished && snap.Scores != nil {
		c.totals = c.totals.Add(*snap.Scores)
		round := scorePair(*snap.Scores, c.role)
		data.Scores = &round
		data.Actions = snap.Actions
	}
	data.Totals = scorePair(c.totals, c.role)
	c.out.Emit(Event{Type: EventGameUpdate, Data: data})
}

// Disconnect releases presence and group membership. The opponent is notified
// unless the session already ended.
func (c *Consumer) Disconnect(ctx context.Context) {
	if c.group == "" {
		if err := c.deps.Registry.Remove(ctx, c.ID); err != nil {
			c.log.Warnf("remove from lobby: %v", err)
		}
		c.drainPendingPair(ctx)
	}
	if c.group != "" {
		if !c.ended {
			c.groupSend(ctx, envDisconnect, nil)
		}
		c.leaveGroup(ctx)
	}
	if err := c.deps.Layer.Unsubscribe(ctx, c.ID); err != nil {
		c.log.Warnf("unsubscribe: %v", err)
	}
	c.log.Info("disconnected")
}

// drainPendingPair picks up a pairing that arrived after the last read, so the
// opponent still hears about this disconnect.
func (c *Consumer) drainPendingPair(ctx context.Context) {
	for {
		select {
		case env, ok := <-c.inbox:
			if !ok {
				return
			}
			if env.Type == envPair {
				c.Deliver(ctx, env)
				return
			}
		default:
			return
		}
	}
}

// Run processes client messages and layer envelopes one at a time until the
// connection or its context ends, then disconnects.
func (c *Consumer) Run(ctx context.Context, fromClient <-chan []byte) {
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		c.Disconnect(cleanup)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-fromClient:
			if !ok {
				return
			}
			c.Receive(ctx, raw)
		case env, ok := <-c.inbox:
			if !ok {
				return
			}
			c.Deliver(ctx, env)
		}
	}
}
