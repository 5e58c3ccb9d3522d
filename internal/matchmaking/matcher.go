// internal/matchmaking/matcher.go
package matchmaking

import (
	"context"

	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/jason-s-yu/dyad/internal/presence"
	"github.com/sirupsen/logrus"
)

// History answers whether two participants have already finished a session together.
type History interface {
	PlayedTogether(ctx context.Context, a, b string) (bool, error)
}

// Matcher is a first-fit opponent picker over the presence registry.
type Matcher struct {
	Registry *presence.Registry
	History  History
	// Development skips the already-played check.
	Development bool
	Log         *logrus.Entry
}

func NewMatcher(reg *presence.Registry, history History, development bool, logger *logrus.Logger) *Matcher {
	return &Matcher{
		Registry:    reg,
		History:     history,
		Development: development,
		Log:         logrus.NewEntry(logger).WithField("component", "matchmaking"),
	}
}

// eligible applies the exclusion rules to one candidate. Errors from the history
// lookup make the candidate ineligible for this attempt.
func (m *Matcher) eligible(ctx context.Context, self models.Participant, candidate presence.Entry) bool {
	if self.SameIdentity(candidate.Participant) {
		return false
	}
	if m.Development || m.History == nil {
		return true
	}
	played, err := m.History.PlayedTogether(ctx, self.Email, candidate.Participant.Email)
	if err != nil {
		m.Log.Warnf("history lookup %s/%s failed: %v", self.Email, candidate.Participant.Email, err)
		return false
	}
	return !played
}

// FindOpponent returns the first eligible live entry other than selfConn.
func (m *Matcher) FindOpponent(ctx context.Context, selfConn string, self models.Participant) (presence.Entry, bool) {
	candidates, err := m.candidates(ctx, selfConn, self)
	if err != nil || len(candidates) == 0 {
		return presence.Entry{}, false
	}
	return candidates[0], true
}

func (m *Matcher) candidates(ctx context.Context, selfConn string, self models.Participant) ([]presence.Entry, error) {
	entries, err := m.Registry.All(ctx)
	if err != nil {
		m.Log.Warnf("presence read failed: %v", err)
		return nil, err
	}
	var out []presence.Entry
	for _, e := range entries {
		if e.ConnID == selfConn {
			continue
		}
		if m.eligible(ctx, self, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Pair finds an opponent for selfConn and claims both out of the lobby. When a
// concurrent attempt claims the first candidate, the next one is tried. It never
// returns an error: no opponent is an ordinary outcome.
func (m *Matcher) Pair(ctx context.Context, selfConn string, self models.Participant) (presence.Entry, bool) {
	candidates, err := m.candidates(ctx, selfConn, self)
	if err != nil {
		return presence.Entry{}, false
	}
	for _, c := range candidates {
		ok, err := m.Registry.Claim(ctx, selfConn, c.ConnID)
		if err != nil {
			m.Log.Warnf("claim %s/%s failed: %v", selfConn, c.ConnID, err)
			return presence.Entry{}, false
		}
		if ok {
			return c, true
		}
		// selfConn itself may have been claimed by someone else
		if !m.present(ctx, selfConn) {
			return presence.Entry{}, false
		}
	}
	return presence.Entry{}, false
}

func (m *Matcher) present(ctx context.Context, connID string) bool {
	entries, err := m.Registry.All(ctx)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.ConnID == connID {
			return true
		}
	}
	return false
}
