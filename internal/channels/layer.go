// internal/channels/layer.go
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoSuchChannel is returned by Send when nobody is subscribed to the channel.
var ErrNoSuchChannel = errors.New("channels: no such channel")

// InboxSize is the buffer of every subscribed channel.
const InboxSize = 256

// Envelope is a message delivered through the layer. Data is opaque to the layer.
type Envelope struct {
	Type   string          `json:"type"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope.
func NewEnvelope(typ, sender string, data interface{}) (Envelope, error) {
	env := Envelope{Type: typ, Sender: sender}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s envelope: %w", typ, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Layer is a connection-oriented pub/sub fabric: every connection owns one named
// channel, and groups are named sets of channels.
type Layer interface {
	// Subscribe creates the inbox for channel. The returned channel is closed by Unsubscribe.
	Subscribe(ctx context.Context, channel string) (<-chan Envelope, error)
	Unsubscribe(ctx context.Context, channel string) error

	GroupAdd(ctx context.Context, group, channel string) error
	GroupDiscard(ctx context.Context, group, channel string) error
	// GroupSend delivers env to every current member of group.
	GroupSend(ctx context.Context, group string, env Envelope) error
	// Send delivers env to exactly one channel. It returns ErrNoSuchChannel when
	// nobody is subscribed to it.
	Send(ctx context.Context, channel string, env Envelope) error
}
