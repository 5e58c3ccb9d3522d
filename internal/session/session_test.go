package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRecorder keeps persisted records instead of writing them anywhere.
type recordingRecorder struct {
	mu      sync.Mutex
	records []models.GameRecord
	err     error
}

func (r *recordingRecorder) Record(_ context.Context, rec models.GameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

var (
	alice = models.Participant{Email: "alice@example.com", Name: "Alice"}
	bob   = models.Participant{Email: "bob@example.com", Name: "Bob"}
	info  = []models.InfoType{models.InfoTypeInfo, models.InfoTypeChat}
	epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestSequencer(rec Recorder) *Sequencer {
	logger, _ := test.NewNullLogger()
	s := NewSequencer(catalog.Default(), rec, logger)
	s.Now = func() time.Time { return epoch }
	return s
}

func a(v string) json.RawMessage {
	return json.RawMessage(v)
}

// play submits both actions and completes the instance.
func play(t *testing.T, s *Sequencer, inst *Instance, server, client string) Outcome {
	t.Helper()
	ok, err := inst.Submit(models.ServerRole, a(server), epoch)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = inst.Submit(models.ClientRole, a(client), epoch)
	require.NoError(t, err)
	require.True(t, ok)
	out, err := s.Complete(context.Background(), inst, info)
	require.NoError(t, err)
	return out
}

func TestStartBuildsIntro(t *testing.T) {
	s := newTestSequencer(nil)
	inst, err := s.Start("g1", alice, bob, info)
	require.NoError(t, err)
	assert.Equal(t, 0, inst.Position)
	assert.Equal(t, "intro", inst.Game.Name)
	assert.Equal(t, AwaitingActions, inst.Phase)
	assert.Equal(t, catalog.Scores{}, inst.Totals)
	assert.False(t, inst.Complete())
}

func TestSubmitIsIdempotent(t *testing.T) {
	s := newTestSequencer(nil)
	inst, err := s.Start("g1", alice, bob, info)
	require.NoError(t, err)

	ok, err := inst.Submit(models.ClientRole, a(`"first"`), epoch)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = inst.Submit(models.ClientRole, a(`"second"`), epoch)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, a(`"first"`), inst.State[bob.Email])
	assert.Len(t, inst.Actions, 1)
	assert.False(t, inst.Complete())
}

func TestSubmitRejectsUnknownRole(t *testing.T) {
	s := newTestSequencer(nil)
	inst, _ := s.Start("g1", alice, bob, info)
	_, err := inst.Submit(models.NoRole, a(`"x"`), epoch)
	assert.True(t, errors.Is(err, ErrUnknownRole))
}

func TestSubmitFallsBackToDefault(t *testing.T) {
	s := newTestSequencer(nil)
	inst, _ := s.Start("g1", alice, bob, info)
	ok, err := inst.Submit(models.ServerRole, nil, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inst.Game.Default, inst.State[alice.Email])
}

func TestSnapshotHidesActionsUntilFinished(t *testing.T) {
	s := newTestSequencer(nil)
	inst, _ := s.Start("g1", alice, bob, info)
	_, err := inst.Submit(models.ClientRole, a(`"secret"`), epoch)
	require.NoError(t, err)

	want := Snapshot{
		GroupID:   "g1",
		GameID:    1,
		GameName:  "intro",
		Position:  0,
		Server:    alice,
		Client:    bob,
		InfoType:  info,
		Config:    catalog.Config{Timeout: 150, Default: a(`""`)},
		Submitted: map[string]bool{"server": false, "client": true},
	}
	if diff := cmp.Diff(want, inst.Snapshot(false)); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(inst.Snapshot(false))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestCompleteRequiresBothActions(t *testing.T) {
	s := newTestSequencer(nil)
	inst, _ := s.Start("g1", alice, bob, info)
	_, _ = inst.Submit(models.ServerRole, a(`""`), epoch)
	_, err := s.Complete(context.Background(), inst, info)
	assert.Error(t, err)
}

func TestPrisonersDilemmaAsymmetricPayoff(t *testing.T) {
	rec := &recordingRecorder{}
	s := newTestSequencer(rec)
	inst, _ := s.Start("g1", alice, bob, info)
	out := play(t, s, inst, `""`, `""`)
	out = play(t, s, out.Next, `"dont"`, `"dont"`)
	pd := out.Next
	require.Equal(t, "prisoners_dilemma", pd.Game.Name)

	out = play(t, s, pd, `"confess"`, `"deny"`)
	require.NotNil(t, out.Finished.Scores)
	assert.Equal(t, catalog.Scores{Server: 0, Client: -20}, *out.Finished.Scores)
	assert.Equal(t, a(`"confess"`), out.Finished.Actions["server"])
	assert.Equal(t, a(`"deny"`), out.Finished.Actions["client"])

	last := rec.records[len(rec.records)-1]
	assert.Equal(t, "prisoners_dilemma", last.GameName)
	assert.Equal(t, alice.Email, last.ServerEmail)
	assert.Equal(t, bob.Email, last.ClientEmail)
	assert.Equal(t, 0, last.ServerScore)
	assert.Equal(t, -20, last.ClientScore)
	assert.Len(t, last.Actions, 2)
}

func TestFullSessionAccumulatesInRoleOrder(t *testing.T) {
	rec := &recordingRecorder{}
	s := newTestSequencer(rec)
	inst, err := s.Start("g1", alice, bob, info)
	require.NoError(t, err)

	moves := [][2]string{
		{`"hello"`, `"hi"`},
		{`"put"`, `"dont"`},
		{`"deny"`, `"confess"`},
		{`3`, `2`},
		{`{"trust":7,"know":true}`, `{"trust":2,"know":false}`},
	}

	var want catalog.Scores
	var out Outcome
	for i, m := range moves {
		require.Equal(t, i, inst.Position)
		require.Equal(t, "g1", inst.GroupID)
		require.Equal(t, alice, inst.Server)
		require.Equal(t, bob, inst.Client)
		want = want.Add(inst.Game.Score(a(m[0]), a(m[1])))
		out = play(t, s, inst, m[0], m[1])
		assert.Equal(t, want, out.Finished.Totals, "after %s", inst.Game.Name)
		if out.Next != nil {
			assert.Equal(t, want, out.Next.Totals)
			assert.Equal(t, Advanced, inst.Phase)
			inst = out.Next
		}
	}

	assert.True(t, out.Ended)
	assert.Nil(t, out.Next)
	assert.Equal(t, SessionEnded, inst.Phase)
	assert.True(t, out.Finished.Terminal)
	assert.Empty(t, out.Finished.InfoType)
	// machine: -5/+15, pd: -20/0, trust: 10-3+2=9 / 9-2=7
	assert.Equal(t, catalog.Scores{Server: -5 - 20 + 9, Client: 15 + 0 + 7}, want)
	assert.Len(t, rec.records, len(moves))
}

func TestPersistenceFailureDoesNotStall(t *testing.T) {
	rec := &recordingRecorder{err: errors.New("db down")}
	logger, hook := test.NewNullLogger()
	s := newTestSequencer(rec)
	s.Log = logrus.NewEntry(logger)
	inst, _ := s.Start("g1", alice, bob, info)
	out := play(t, s, inst, `""`, `""`)
	require.NotNil(t, out.Next)
	assert.Equal(t, 1, out.Next.Position)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "g1", entry.Data["group"])
	assert.Contains(t, entry.Message, "db down")
}

func TestSubmitAfterFinishIsDropped(t *testing.T) {
	s := newTestSequencer(nil)
	inst, _ := s.Start("g1", alice, bob, info)
	play(t, s, inst, `""`, `""`)
	ok, err := inst.Submit(models.ServerRole, a(`"late"`), epoch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdvanceRequiresPersistedInstance(t *testing.T) {
	s := newTestSequencer(nil)
	inst, err := s.Start("g1", alice, bob, info)
	require.NoError(t, err)
	_, err = s.Advance(inst, info)
	assert.Error(t, err)
	assert.Equal(t, AwaitingActions, inst.Phase)
}
