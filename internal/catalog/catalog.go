// internal/catalog/catalog.go
package catalog

import (
	"encoding/json"
	"time"

	"github.com/jason-s-yu/dyad/internal/models"
)

// Scores is a pair of per-game scores in role order.
type Scores struct {
	Server int `json:"server"`
	Client int `json:"client"`
}

// Add returns the element-wise sum.
func (s Scores) Add(o Scores) Scores {
	return Scores{Server: s.Server + o.Server, Client: s.Client + o.Client}
}

// For returns the score of role and of its opponent.
func (s Scores) For(role models.Role) (own, opponent int) {
	if role == models.ClientRole {
		return s.Client, s.Server
	}
	return s.Server, s.Client
}

// ScoreFunc maps the server's and the client's actions to their scores. It must be pure.
type ScoreFunc func(server, client json.RawMessage) Scores

// Config is the per-game configuration sent to clients.
type Config struct {
	Timeout int             `json:"timeout"`
	Default json.RawMessage `json:"default"`
}

// Definition is one static entry of the catalog.
type Definition struct {
	ID      int
	Name    string
	Timeout time.Duration
	Default json.RawMessage
	Score   ScoreFunc

	// NoInfo forces an empty info_type list regardless of the pairing's setting.
	NoInfo bool
}

// Config renders the client-facing configuration.
func (d Definition) Config() Config {
	return Config{
		Timeout: int(d.Timeout / time.Second),
		Default: d.Default,
	}
}

// InfoType returns the channels available for this game given the pairing's setting.
func (d Definition) InfoType(pairing []models.InfoType) []models.InfoType {
	if d.NoInfo {
		return []models.InfoType{}
	}
	return pairing
}

// Catalog is the fixed, ordered list of games a pair plays through.
// Position 0 is the introduction and the last position is terminal.
type Catalog []Definition

// At returns the definition at pos.
func (c Catalog) At(pos int) (Definition, bool) {
	if pos < 0 || pos >= len(c) {
		return Definition{}, false
	}
	return c[pos], true
}

// IsTerminal reports whether pos is the last game.
func (c Catalog) IsTerminal(pos int) bool {
	return len(c) > 0 && pos == len(c)-1
}

// Next returns the position following pos. It wraps past the terminal game, but
// the session ends on the terminal game before this is ever reached.
func (c Catalog) Next(pos int) int {
	if len(c) == 0 {
		return 0
	}
	return (pos + 1) % len(c)
}

func raw(v string) json.RawMessage {
	return json.RawMessage(v)
}

// Default returns the production catalog.
func Default() Catalog {
	return Catalog{
		{
			ID:      1,
			Name:    "intro",
			Timeout: 150 * time.Second,
			Default: raw(`""`),
			Score:   zeroScore,
		},
		{
			ID:      2,
			Name:    "machine",
			Timeout: 120 * time.Second,
			Default: raw(`"dont"`),
			Score:   machineScore,
		},
		{
			ID:      3,
			Name:    "prisoners_dilemma",
			Timeout: 120 * time.Second,
			Default: raw(`"confess"`),
			Score:   prisonersDilemmaScore,
		},
		{
			ID:      4,
			Name:    "trust_game",
			Timeout: 180 * time.Second,
			Default: raw(`5`),
			Score:   trustScore,
		},
		{
			ID:      5,
			Name:    "outro",
			Timeout: 120 * time.Second,
			Default: raw(`{"trust":5,"know":false}`),
			Score:   zeroScore,
			NoInfo:  true,
		},
	}
}
