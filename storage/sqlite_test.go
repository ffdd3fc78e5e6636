package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CommandQueue(t *testing.T) {
	store := newTestSQLite(t)

	require.NoError(t, store.EnqueueCommand(models.CmdCheckNow, &models.CommandParams{
		ListingIDs: []string{"a1", "b2"},
	}))
	require.NoError(t, store.EnqueueCommand(models.CmdPause, nil))

	cmds, err := store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, models.CmdCheckNow, cmds[0].Command)
	assert.Equal(t, models.CmdPause, cmds[1].Command)

	params, err := store.ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b2"}, params.ListingIDs)

	empty, err := store.ParseCommandParams(&cmds[1])
	require.NoError(t, err)
	assert.Empty(t, empty.ListingIDs)

	require.NoError(t, store.MarkCommandProcessed(cmds[0].ID))
	cmds, err = store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdPause, cmds[0].Command)
}

func TestSQLiteStore_RunAudit(t *testing.T) {
	store := newTestSQLite(t)

	last, err := store.GetLastRunTime()
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "no completed runs yet")

	run := &models.CheckRun{
		StartedAt: time.Now().Add(-time.Minute),
		Status:    models.RunStatusRunning,
	}
	id, err := store.CreateRun(run)
	require.NoError(t, err)
	require.NotZero(t, id)
	run.ID = id

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.PassID = "c2f1b0ce-0000-0000-0000-000000000000"
	run.Checked = 42
	run.Changed = 3
	run.Errors = 1
	require.NoError(t, store.UpdateRun(run))

	runs, err := store.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 42, runs[0].Checked)
	assert.Equal(t, 3, runs[0].Changed)
	assert.Equal(t, 1, runs[0].Errors)
	require.NotNil(t, runs[0].FinishedAt)

	last, err = store.GetLastRunTime()
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}
