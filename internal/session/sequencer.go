// internal/session/sequencer.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/sirupsen/logrus"
)

// Recorder persists finished game instances. Records are append-only.
type Recorder interface {
	Record(ctx context.Context, rec models.GameRecord) error
}

// Outcome is what completing an instance produced.
type Outcome struct {
	Finished Snapshot
	Next     *Instance
	Ended    bool
}

// Sequencer walks a pair through the catalog.
type Sequencer struct {
	Catalog  catalog.Catalog
	Recorder Recorder
	Now      func() time.Time
	Log      *logrus.Entry
}

func NewSequencer(c catalog.Catalog, rec Recorder, logger *logrus.Logger) *Sequencer {
	return &Sequencer{
		Catalog:  c,
		Recorder: rec,
		Now:      time.Now,
		Log:      logrus.NewEntry(logger).WithField("component", "session"),
	}
}

// Start creates the first game of a new pairing.
func (s *Sequencer) Start(group string, server, client models.Participant, info []models.InfoType) (*Instance, error) {
	return s.initialize(group, server, client, info, 0, catalog.Scores{})
}

func (s *Sequencer) initialize(group string, server, client models.Participant, info []models.InfoType, pos int, totals catalog.Scores) (*Instance, error) {
	def, ok := s.Catalog.At(pos)
	if !ok {
		return nil, errors.New("session: empty catalog")
	}
	return newInstance(group, pos, def, server, client, info, totals, s.Now()), nil
}

// IsTerminal reports whether inst is the last game of the catalog.
func (s *Sequencer) IsTerminal(inst *Instance) bool {
	return s.Catalog.IsTerminal(inst.Position)
}

// Complete scores, persists and advances a complete instance. A persistence failure
// is logged and does not hold the pair back.
func (s *Sequencer) Complete(ctx context.Context, inst *Instance, info []models.InfoType) (Outcome, error) {
	if !inst.Complete() {
		return Outcome{}, errors.New("session: instance is not complete")
	}
	inst.finish()

	if s.Recorder != nil {
		if err := s.Recorder.Record(ctx, inst.Record(s.Now())); err != nil {
			s.Log.WithField("group", inst.GroupID).Errorf("failed to persist %s: %v", inst.Game.Name, err)
		}
	}
	inst.Phase = Persisted

	out := Outcome{Finished: inst.Snapshot(s.IsTerminal(inst))}
	next, err := s.Advance(inst, info)
	if err != nil {
		return Outcome{}, err
	}
	out.Next = next
	out.Ended = next == nil
	return out, nil
}

// Advance moves a persisted instance on. It returns nil after the terminal game,
// which ends the session rather than wrapping to the first game.
func (s *Sequencer) Advance(inst *Instance, info []models.InfoType) (*Instance, error) {
	if inst.Phase != Persisted {
		return nil, fmt.Errorf("session: cannot advance from %s", inst.Phase)
	}
	if s.IsTerminal(inst) {
		inst.Phase = SessionEnded
		return nil, nil
	}
	next, err := s.initialize(inst.GroupID, inst.Server, inst.Client, info, s.Catalog.Next(inst.Position), inst.Totals)
	if err != nil {
		return nil, err
	}
	inst.Phase = Advanced
	return next, nil
}
