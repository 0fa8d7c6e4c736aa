package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudosync/internal/coordinator"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
)

var at = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

// committedFlow replays the four transitions of a successful send.
func committedFlow(t *testing.T, j *Journal, token string) {
	t.Helper()
	states := []coordinator.State{
		coordinator.StateValidating,
		coordinator.StateApplying,
		coordinator.StateAwaitingConfirmation,
		coordinator.StateCommitted,
	}
	var from coordinator.State
	for i, to := range states {
		require.NoError(t, j.Record(context.Background(), coordinator.Transition{
			Token: token, Kind: coordinator.KindSendKudos, UserID: 1, Amount: 20,
			From: from, To: to, At: at.Add(time.Duration(i) * time.Millisecond),
		}))
		from = to
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	_, path := openTemp(t)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_AppliesPragmasAndVersion(t *testing.T) {
	j, _ := openTemp(t)

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, j.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestFlow_InOrder(t *testing.T) {
	j, _ := openTemp(t)
	committedFlow(t, j, "flow-a")
	committedFlow(t, j, "flow-b")

	entries, err := j.Flow(context.Background(), "flow-a")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, coordinator.State(""), entries[0].From)
	assert.Equal(t, coordinator.StateCommitted, entries[3].To)
	assert.Equal(t, record.ID(1), entries[0].UserID)
	assert.True(t, at.Equal(entries[0].RecordedAt))
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}

	none, err := j.Flow(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecord_KeepsErrorKind(t *testing.T) {
	j, _ := openTemp(t)
	failure := fault.Validation("send-kudos", "amount must be positive")
	require.NoError(t, j.Record(context.Background(), coordinator.Transition{
		Token: "flow-x", Kind: coordinator.KindSendKudos, UserID: 1,
		From: coordinator.StateValidating, To: coordinator.StateRolledBack, At: at, Err: failure,
	}))
	require.NoError(t, j.Record(context.Background(), coordinator.Transition{
		Token: "flow-y", Kind: coordinator.KindRedeem, UserID: 1,
		From: coordinator.StateValidating, To: coordinator.StateRolledBack, At: at, Err: errors.New("cancelled"),
	}))

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "flow-y", entries[0].Token, "newest first")
	assert.Equal(t, fault.Kind(""), entries[0].ErrorKind)
	assert.Equal(t, fault.KindValidation, entries[1].ErrorKind)
	assert.Equal(t, failure.Error(), entries[1].Error)
}

func TestOutcomes_OnlyTerminal(t *testing.T) {
	j, _ := openTemp(t)
	committedFlow(t, j, "flow-a")
	require.NoError(t, j.Record(context.Background(), coordinator.Transition{
		Token: "flow-b", Kind: coordinator.KindRedeem, UserID: 1, To: coordinator.StateValidating, At: at,
	}))

	out, err := j.Outcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "flow-a", out[0].Token)
}

func TestReopen_ResumesSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j1, err := Open(path)
	require.NoError(t, err)
	committedFlow(t, j1, "flow-a")
	last := j1.LastSeq()
	require.Equal(t, int64(4), last)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, last, j2.LastSeq())

	committedFlow(t, j2, "flow-b")
	entries, err := j2.Flow(context.Background(), "flow-b")
	require.NoError(t, err)
	assert.Equal(t, last+1, entries[0].Seq)
}

func TestObserveTransition_FromCoordinator(t *testing.T) {
	j, _ := openTemp(t)
	var obs coordinator.Observer = j

	obs.ObserveTransition(coordinator.Transition{
		Token: "flow-a", Kind: coordinator.KindSendKudos, UserID: 2, To: coordinator.StateValidating, At: at,
	})

	entries, err := j.Flow(context.Background(), "flow-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, record.ID(2), entries[0].UserID)
}
