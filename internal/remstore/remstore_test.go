package remstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

func sampleResolution(id string, createdAt time.Time) *model.Resolution {
	return &model.Resolution{
		ID:            id,
		CreatedAt:     createdAt,
		DreamingRunID: "run-1",
		Resolutions: []model.ConnectorResolution{
			{
				ConnectorID: "claude-code",
				Actions: []*model.RemediationAction{
					model.NewRemediationAction("skill", "note.md", model.OperationCreate, map[string]any{"description": "d"}),
				},
			},
		},
		Metadata: map[string]any{},
	}
}

func TestNewFileStore_UsesDryRunDirectoryWhenRequested(t *testing.T) {
	runtimeDir := t.TempDir()

	normal := NewFileStore(runtimeDir, false)
	assert.Equal(t, filepath.Join(runtimeDir, "resolutions"), normal.dir)

	dryRun := NewFileStore(runtimeDir, true)
	assert.Equal(t, filepath.Join(runtimeDir, "dry-runs"), dryRun.dir)
}

func TestSave_AssignsIDWhenMissingAndNamesFileByDateAndShortID(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	createdAt := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	r := sampleResolution("", createdAt)

	require.NoError(t, store.Save(r))
	require.NotEmpty(t, r.ID)

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	wantName := "2026-03-05-" + r.ID[:8] + ".json"
	assert.Equal(t, wantName, entries[0].Name())
}

func TestSave_NeverLeavesTempFilesBehind(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	require.NoError(t, store.Save(sampleResolution("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", time.Now())))

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestLoad_RoundTripsResolutionContent(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := sampleResolution("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", createdAt)
	require.NoError(t, store.Save(r))

	path := filepath.Join(store.dir, store.filename(r))
	loaded, err := store.Load(path)
	require.NoError(t, err)

	assert.Equal(t, r.ID, loaded.ID)
	assert.True(t, r.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, r.DreamingRunID, loaded.DreamingRunID)
	require.Len(t, loaded.Resolutions, 1)
	assert.Equal(t, "claude-code", loaded.Resolutions[0].ConnectorID)
	require.Len(t, loaded.Resolutions[0].Actions, 1)
	assert.Equal(t, "note.md", loaded.Resolutions[0].Actions[0].Target)
}

func TestLoadByID_FindsRecordByFullIDAfterPrefixMatch(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	r := sampleResolution("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", time.Now())
	require.NoError(t, store.Save(r))

	found, err := store.LoadByID(r.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, r.ID, found.ID)
}

func TestLoadByID_PrefixMatchWithWrongFullIDReturnsNil(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	r := sampleResolution("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", time.Now())
	require.NoError(t, store.Save(r))

	found, err := store.LoadByID("aaaaaaaa-zzzz-zzzz-zzzz-zzzzzzzzzzzz")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLoadByID_ShortIDIsRejected(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	_, err := store.LoadByID("short")
	assert.Error(t, err)
}

func TestListRecent_OrdersNewestFirstAndRespectsLimit(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	older := sampleResolution("11111111-0000-0000-0000-000000000000", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := sampleResolution("22222222-0000-0000-0000-000000000000", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	out, err := store.ListRecent(1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, newer.ID, out[0].ID)

	all, err := store.ListRecent(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
}

func TestListRecent_MissingDirectoryReturnsEmptyNotError(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	out, err := store.ListRecent(10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListRecent_SkipsUnparseableFilesInsteadOfAborting(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	good := sampleResolution("11111111-0000-0000-0000-000000000000", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save(good))

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "2026-01-02-deadbeef.json"), []byte("not json"), 0o644))

	out, err := store.ListRecent(0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, good.ID, out[0].ID)
}

func TestActionsForTarget_CollectsMatchingActionsAcrossResolutions(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)

	r1 := sampleResolution("11111111-0000-0000-0000-000000000000", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r2 := sampleResolution("22222222-0000-0000-0000-000000000000", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	r2.Resolutions[0].Actions[0].Target = "other.md"
	require.NoError(t, store.Save(r1))
	require.NoError(t, store.Save(r2))

	actions, err := store.ActionsForTarget("note.md")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "note.md", actions[0].Target)
}

func TestActionsForTarget_NoMatchReturnsEmpty(t *testing.T) {
	store := NewFileStore(t.TempDir(), false)
	require.NoError(t, store.Save(sampleResolution("11111111-0000-0000-0000-000000000000", time.Now())))

	actions, err := store.ActionsForTarget("does-not-exist.md")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestDryRunStore_WritesUnderSeparateDirectoryFromNormalStore(t *testing.T) {
	runtimeDir := t.TempDir()
	dryRun := NewFileStore(runtimeDir, true)
	require.NoError(t, dryRun.Save(sampleResolution("11111111-0000-0000-0000-000000000000", time.Now())))

	normal := NewFileStore(runtimeDir, false)
	out, err := normal.ListRecent(0)
	require.NoError(t, err)
	assert.Empty(t, out, "a dry-run save must never appear in the normal resolutions history")
}
