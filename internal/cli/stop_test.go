package cli

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/proc"
	"github.com/mmr-tortoise/devserve/internal/state"
)

// setupWorkspace points state resolution and the working directory at
// disposable temp directories, so command functions run against a clean
// environment. Returns the store the commands will use.
func setupWorkspace(t *testing.T) *state.Store {
	t.Helper()
	t.Setenv("DEVSERVE_STATE_DIR", t.TempDir())
	t.Chdir(t.TempDir())

	store, err := state.NewStore()
	require.NoError(t, err)
	return store
}

// ownInstance builds a record pointing at the test process itself, with the
// real creation time unless skewMillis shifts it.
func ownInstance(t *testing.T, project string, port int, skewMillis int64) *model.Instance {
	t.Helper()

	pid := int32(os.Getpid())
	created, err := proc.NewInspector().CreateTime(context.Background(), pid)
	require.NoError(t, err)

	return &model.Instance{
		ID:            uuid.NewString(),
		Project:       project,
		PID:           pid,
		Port:          port,
		Command:       "uvicorn app:app --reload --port 8000",
		HealthPath:    "/docs",
		StartedAt:     time.Now(),
		ProcStartedAt: created + skewMillis,
	}
}

func TestRunStop_StaleRecordRemovedWithoutSignalling(t *testing.T) {
	store := setupWorkspace(t)
	cfg, err := loadConfig()
	require.NoError(t, err)

	// The record claims our PID but a creation time from a minute earlier,
	// which is what a reused PID looks like. Stop must remove the record
	// and must not signal the process, which in this test is us.
	inst := ownInstance(t, cfg.Project, cfg.Port, -60_000)
	require.NoError(t, store.Save(inst))

	result, err := runStop(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "record-removed", result.Action)
	assert.Equal(t, model.StatusStale.String(), result.Status)

	_, err = store.Load(context.Background(), cfg.Project)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRunStop_StoppedRecordRemoved(t *testing.T) {
	store := setupWorkspace(t)
	cfg, err := loadConfig()
	require.NoError(t, err)

	inst := ownInstance(t, cfg.Project, cfg.Port, 0)
	inst.PID = 1 << 30 // far beyond any real PID
	require.NoError(t, store.Save(inst))

	result, err := runStop(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "record-removed", result.Action)

	_, err = store.Load(context.Background(), cfg.Project)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRunStop_NoRecordIsExitCode6(t *testing.T) {
	setupWorkspace(t)

	_, err := runStop(context.Background(), false)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitInstanceNotFound, cliErr.Code)
}

func TestRunStop_TolerantNoRecord(t *testing.T) {
	setupWorkspace(t)

	result, err := runStop(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "no-instance", result.Action)
}
