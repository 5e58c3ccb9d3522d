// internal/consumer/relay.go
package consumer

import (
	"context"
	"encoding/json"

	"github.com/jason-s-yu/dyad/internal/channels"
)

// relayed lists the envelope types forwarded verbatim between the pair.
var relayed = map[string]bool{
	MsgChat:              true,
	MsgMediaOffer:        true,
	MsgMediaAnswer:       true,
	MsgRemoteImage:       true,
	EventRemoteCandidate: true,
}

func isRelayed(typ string) bool {
	return relayed[typ]
}

// relay forwards a signaling or chat message straight to the opponent, never back
// to the sender. The payload is not inspected.
func (c *Consumer) relay(ctx context.Context, typ string, raw []byte) {
	if c.group == "" || c.opponentChan == "" {
		return
	}
	env := channels.Envelope{
		Type:   typ,
		Sender: c.ID,
		Data:   json.RawMessage(append([]byte(nil), raw...)),
	}
	if err := c.deps.Layer.Send(ctx, c.opponentChan, env); err != nil {
		c.log.Warnf("relay %s: %v", typ, err)
	}
}
