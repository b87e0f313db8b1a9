package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/conversation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	settings := config.DefaultSettings()
	return NewStore(t.TempDir(), []byte("test-signing-key"), settings)
}

func testRecord(t *testing.T) *Record {
	t.Helper()
	return &Record{
		Version:     SchemaVersion,
		ID:          uuid.New().String(),
		Name:        "refactor parser",
		ProjectPath: "/home/dev/project",
		Config:      config.DefaultSessionConfig(),
		ClosedAt:    time.Now().UTC().Truncate(time.Second),
		Conversation: []conversation.Message{
			{ID: uuid.New().String(), Role: conversation.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
			{ID: uuid.New().String(), Role: conversation.RoleAssistant, Content: "hi", Timestamp: time.Now().UTC()},
		},
		Todos: []conversation.TodoItem{
			{Content: "Run tests", Status: conversation.TodoStatusPending, ActiveForm: "Running tests"},
		},
	}
}

func mustSave(t *testing.T, store *Store, rec *Record) string {
	t.Helper()
	path, err := store.Save(rec)
	require.NoError(t, err)
	return path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)

	path := mustSave(t, store, rec)
	assert.Equal(t, store.recordPath(rec.ID), path)

	loaded, err := store.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, rec.Name, loaded.Name)
	assert.Equal(t, rec.ProjectPath, loaded.ProjectPath)
	assert.Len(t, loaded.Conversation, 2)
	assert.Equal(t, "hello", loaded.Conversation[0].Content)
	assert.Len(t, loaded.Todos, 1)
	assert.True(t, rec.ClosedAt.Equal(loaded.ClosedAt))
}

func TestSaveSetsRestrictivePermissions(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	mustSave(t, store, rec)

	info, err := os.Stat(store.recordPath(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, testRecord(t))

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.Contains(entry.Name(), ".tmp-"), "leftover temp file %s", entry.Name())
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	mustSave(t, store, rec)

	path := store.recordPath(rec.ID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "hello", "HELLO", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = store.Load(rec.ID)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoadRejectsUnsignedRecord(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	rec.Signature = ""

	// Written directly, bypassing Save, so no signature is attached.
	data := `{"version":1,"id":"` + rec.ID + `","name":"x","project_path":"/p",` +
		`"config":{"provider":"anthropic","model":"m"},"closed_at":"2026-01-01T00:00:00Z","conversation":[],"todos":[]}`
	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(store.recordPath(rec.ID), []byte(data), 0o600))

	_, err := store.Load(rec.ID)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoadRejectsWrongKey(t *testing.T) {
	settings := config.DefaultSettings()
	dir := t.TempDir()
	writer := NewStore(dir, []byte("key-one"), settings)
	reader := NewStore(dir, []byte("key-two"), settings)

	rec := testRecord(t)
	mustSave(t, writer, rec)

	_, err := reader.Load(rec.ID)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	rec.Version = SchemaVersion + 1
	require.NoError(t, rec.Sign(store.key))

	// Write the future-version record directly; Save would refuse it.
	raw, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(store.recordPath(rec.ID), raw, 0o600))

	_, err = store.Load(rec.ID)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestLoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsNonUUIDID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("../../../etc/passwd")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsConcurrentSaveForSameSession(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)

	// Hold the save lock the way an in-flight save would.
	require.NoError(t, store.locks.acquire(rec.ID))
	defer store.locks.release(rec.ID)

	_, err := store.Save(rec)
	assert.ErrorIs(t, err, ErrSaveInProgress)
}

func TestConcurrentSavesDistinctSessions(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = store.Save(testRecord(t))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "save %d", i)
	}

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 8)
}

func TestSaveEnforcesRecordSizeLimit(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxRecordBytes = 2048
	store := NewStore(t.TempDir(), []byte("k"), settings)

	rec := testRecord(t)
	rec.Conversation = append(rec.Conversation, conversation.Message{
		ID:      uuid.New().String(),
		Role:    conversation.RoleAssistant,
		Content: strings.Repeat("x", 4096),
	})

	_, err := store.Save(rec)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.False(t, store.Exists(rec.ID), "failed save must not leave a record")
}

func TestSaveEnforcesTotalSessionLimit(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxTotalSessions = settings.MaxSessions // floor allowed by Validate
	store := NewStore(t.TempDir(), []byte("k"), settings)

	var last *Record
	for i := 0; i < settings.MaxTotalSessions; i++ {
		last = testRecord(t)
		mustSave(t, store, last)
	}

	_, err := store.Save(testRecord(t))
	assert.ErrorIs(t, err, ErrStoreFull)

	// Overwriting an existing record is still allowed at the ceiling.
	mustSave(t, store, last)
}

func TestConcurrentSavesRespectTotalLimit(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxTotalSessions = settings.MaxSessions // floor allowed by Validate
	store := NewStore(t.TempDir(), []byte("k"), settings)

	// Twice as many new sessions as the ceiling admits, all racing.
	var wg sync.WaitGroup
	errs := make([]error, 2*settings.MaxTotalSessions)
	for i := range errs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = store.Save(testRecord(t))
		}(i)
	}
	wg.Wait()

	var full int
	for _, err := range errs {
		if errors.Is(err, ErrStoreFull) {
			full++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, settings.MaxTotalSessions, len(errs)-full)

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, settings.MaxTotalSessions)
}

func TestListReportsTodoProgress(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	rec.Todos = []conversation.TodoItem{
		{Content: "Run tests", Status: conversation.TodoStatusCompleted, ActiveForm: "Running tests"},
		{Content: "Ship it", Status: conversation.TodoStatusPending, ActiveForm: "Shipping it"},
	}
	mustSave(t, store, rec)

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 1, metas[0].TodosDone)
	assert.Equal(t, 2, metas[0].TodosTotal)
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testRecord(t)
		rec.ClosedAt = base.Add(time.Duration(i) * time.Hour)
		mustSave(t, store, rec)
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.True(t, metas[0].ClosedAt.After(metas[1].ClosedAt))
	assert.True(t, metas[1].ClosedAt.After(metas[2].ClosedAt))
}

func TestListSkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, testRecord(t))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, uuid.New().String()+".json"), []byte("{not json"), 0o600))

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	settings := config.DefaultSettings()
	store := NewStore(filepath.Join(t.TempDir(), "never-created"), []byte("k"), settings)

	metas, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestListPropagatesDirectoryErrors(t *testing.T) {
	settings := config.DefaultSettings()
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	store := NewStore(file, []byte("k"), settings)

	_, err := store.List()
	assert.Error(t, err, "listing failure must not be reported as an empty list")
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	mustSave(t, store, rec)

	require.NoError(t, store.Delete(rec.ID))
	assert.ErrorIs(t, store.Delete(rec.ID), ErrNotFound)
	_, err := store.Load(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	store := newTestStore(t)
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	old := testRecord(t)
	old.ClosedAt = cutoff.Add(-48 * time.Hour)
	mustSave(t, store, old)

	recent := testRecord(t)
	recent.ClosedAt = cutoff.Add(24 * time.Hour)
	mustSave(t, store, recent)

	removed, kept, err := store.Cleanup(cutoff, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, removed)
	assert.Equal(t, 1, kept)
	assert.True(t, store.Exists(recent.ID))
	assert.False(t, store.Exists(old.ID))
}

func TestCleanupSkipsActiveSessions(t *testing.T) {
	store := newTestStore(t)
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	active := testRecord(t)
	active.ClosedAt = cutoff.Add(-48 * time.Hour)
	mustSave(t, store, active)

	removed, kept, err := store.Cleanup(cutoff, func(id, _ string) bool { return id == active.ID })
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, 1, kept)
	assert.True(t, store.Exists(active.ID))
}

func TestCleanupPropagatesListingError(t *testing.T) {
	settings := config.DefaultSettings()
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	store := NewStore(file, []byte("k"), settings)

	_, _, err := store.Cleanup(time.Now(), nil)
	assert.Error(t, err)
}
