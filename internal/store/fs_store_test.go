package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	return s, dir
}

func testCheckpoint(jobID string) *Checkpoint {
	cfg := DefaultJobConfig()
	cfg.Objective = "rosenbrock"
	cfg.Dim = 3
	cfg.Seed = 42
	return &Checkpoint{
		JobID:       jobID,
		Params:      []float64{0.98, 0.96, 0.93},
		Loss:        0.0123,
		InitialLoss: 24.2,
		Iteration:   500,
		Timestamp:   time.Now(),
		Config:      cfg,
	}
}

func TestNewFSStore_CreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.BaseDir())
	assert.DirExists(t, dir)
}

func TestSaveCheckpoint(t *testing.T) {
	s, dir := setupTestStore(t)

	require.NoError(t, s.SaveCheckpoint("job-1", testCheckpoint("job-1")))

	path := filepath.Join(dir, "jobs", "job-1", "checkpoint.json")
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}

func TestSaveCheckpoint_InvalidInput(t *testing.T) {
	s, _ := setupTestStore(t)
	assert.Error(t, s.SaveCheckpoint("", testCheckpoint("x")))
	assert.Error(t, s.SaveCheckpoint("job", nil))
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	s, _ := setupTestStore(t)

	first := testCheckpoint("job")
	first.Loss = 0.5
	second := testCheckpoint("job")
	second.Loss = 0.1

	require.NoError(t, s.SaveCheckpoint("job", first))
	require.NoError(t, s.SaveCheckpoint("job", second))

	loaded, err := s.LoadCheckpoint("job")
	require.NoError(t, err)
	assert.Equal(t, 0.1, loaded.Loss)
}

func TestLoadCheckpoint_RoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	original := testCheckpoint("job")
	original.Config.TimeLimit = 90 * time.Second
	require.NoError(t, s.SaveCheckpoint("job", original))

	loaded, err := s.LoadCheckpoint("job")
	require.NoError(t, err)
	assert.Equal(t, original.Params, loaded.Params)
	assert.Equal(t, original.Config, loaded.Config)
	assert.True(t, original.Timestamp.Equal(loaded.Timestamp))
	assert.NoError(t, loaded.Validate())
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.LoadCheckpoint("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.JobID)

	_, err = s.LoadCheckpoint("")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestLoadCheckpoint_Corrupted(t *testing.T) {
	s, dir := setupTestStore(t)
	jobDir := filepath.Join(dir, "jobs", "bad")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "checkpoint.json"), []byte("{not json"), 0o644))

	_, err := s.LoadCheckpoint("bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestListCheckpoints_Empty(t *testing.T) {
	s, _ := setupTestStore(t)
	infos, err := s.ListCheckpoints()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestListCheckpoints_NewestFirst(t *testing.T) {
	s, _ := setupTestStore(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		cp := testCheckpoint(id)
		cp.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveCheckpoint(id, cp))
	}

	infos, err := s.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "c", infos[0].JobID)
	assert.Equal(t, "a", infos[2].JobID)
}

func TestListCheckpoints_SkipsOtherEntries(t *testing.T) {
	s, dir := setupTestStore(t)
	require.NoError(t, s.SaveCheckpoint("good", testCheckpoint("good")))

	jobs := filepath.Join(dir, "jobs")
	require.NoError(t, os.MkdirAll(filepath.Join(jobs, "empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(jobs, "corrupt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobs, "corrupt", "checkpoint.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(jobs, "stray.txt"), []byte("x"), 0o644))

	infos, err := s.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "good", infos[0].JobID)
}

func TestDeleteCheckpoint(t *testing.T) {
	s, dir := setupTestStore(t)
	require.NoError(t, s.SaveCheckpoint("job", testCheckpoint("job")))

	tw, err := NewTraceWriter(dir, "job", false)
	require.NoError(t, err)
	require.NoError(t, tw.Write(TraceEntry{Iteration: 0, Loss: 1}))
	require.NoError(t, tw.Close())

	require.NoError(t, s.DeleteCheckpoint("job"))
	assert.NoDirExists(t, filepath.Join(dir, "jobs", "job"))

	_, err = s.LoadCheckpoint("job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCheckpoint_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	assert.ErrorIs(t, s.DeleteCheckpoint("missing"), ErrNotFound)
	assert.Error(t, s.DeleteCheckpoint(""))
}

func TestConcurrentSave(t *testing.T) {
	s, _ := setupTestStore(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			cp := testCheckpoint(id)
			cp.Iteration = i
			errs <- s.SaveCheckpoint(id, cp)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	infos, err := s.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, infos, n)
}
