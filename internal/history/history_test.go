package history

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/suiterun/internal/run"
)

func snapshot(id string, state run.State) *run.Status {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(1200 * time.Millisecond)
	s := &run.Status{
		ID:       id,
		Suite:    "unit",
		Status:   state,
		Runtime:  1200,
		Started:  started,
		Finished: &finished,
	}
	switch state {
	case run.Completed:
		s.Result = map[string]any{"passed": 3.0}
	case run.Failed, run.Cancelled:
		s.Error = "process failed: exit status 1"
		s.ErrorKind = run.KindSpawn
	}
	return s
}

func TestDiskStore_RoundTrip(t *testing.T) {
	s := NewDiskStore()
	t.Cleanup(func() { _ = s.Close() })

	want := snapshot("1", run.Completed)
	require.NoError(t, s.Save(want))
	require.NotEmpty(t, s.Dir())

	got, err := s.Load("1")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Runtime, got.Runtime)
	assert.True(t, want.Started.Equal(got.Started))
	assert.True(t, want.Finished.Equal(*got.Finished))
	assert.Equal(t, want.Result, got.Result)

	failed := snapshot("2", run.Cancelled)
	require.NoError(t, s.Save(failed))
	got, err = s.Load("2")
	require.NoError(t, err)
	assert.Equal(t, run.Cancelled, got.Status)
	assert.Equal(t, run.KindSpawn, got.ErrorKind)
}

func TestDiskStore_Missing(t *testing.T) {
	s := NewDiskStore()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Load("1")
	assert.ErrorIs(t, err, ErrNotFound, "load before any save")

	require.NoError(t, s.Save(snapshot("1", run.Completed)))
	_, err = s.Load("99")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStore_Close(t *testing.T) {
	s := NewDiskStore()
	require.NoError(t, s.Save(snapshot("1", run.Completed)))
	dir := s.Dir()

	require.NoError(t, s.Close())
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, s.Dir())
	require.NoError(t, s.Close())
}

func TestLRUStore_Eviction(t *testing.T) {
	s := NewLRUStore(2, nil)
	require.NoError(t, s.Save(snapshot("1", run.Completed)))
	require.NoError(t, s.Save(snapshot("2", run.Failed)))

	// Touch 1 so 2 becomes least recently used.
	_, err := s.Load("1")
	require.NoError(t, err)

	require.NoError(t, s.Save(snapshot("3", run.Completed)))
	assert.Equal(t, 2, s.Len())

	_, err = s.Load("2")
	assert.ErrorIs(t, err, ErrNotFound)

	ids := []string{}
	for _, st := range s.List() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"3", "1"}, ids)
}

func TestLRUStore_BackingStore(t *testing.T) {
	disk := NewDiskStore()
	t.Cleanup(func() { _ = disk.Close() })
	s := NewLRUStore(1, disk)

	require.NoError(t, s.Save(snapshot("1", run.Completed)))
	require.NoError(t, s.Save(snapshot("2", run.Failed)))
	assert.Equal(t, 1, s.Len())

	// 1 was evicted from memory but is still on disk.
	got, err := s.Load("1")
	require.NoError(t, err)
	assert.Equal(t, run.Completed, got.Status)
	assert.Equal(t, int64(1200), got.Runtime)

	// The miss promoted 1 back into the cache.
	ids := []string{}
	for _, st := range s.List() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"1"}, ids)

	_, err = s.Load("42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLRUStore_UpdateExisting(t *testing.T) {
	s := NewLRUStore(3, nil)
	require.NoError(t, s.Save(snapshot("1", run.Failed)))
	require.NoError(t, s.Save(snapshot("1", run.Cancelled)))
	assert.Equal(t, 1, s.Len())

	got, err := s.Load("1")
	require.NoError(t, err)
	assert.Equal(t, run.Cancelled, got.Status)
}

func TestNewLRUStore_MinimumCapacity(t *testing.T) {
	s := NewLRUStore(0, nil)
	require.NoError(t, s.Save(snapshot("1", run.Completed)))
	require.NoError(t, s.Save(snapshot("2", run.Completed)))
	assert.Equal(t, 1, s.Len())
}
