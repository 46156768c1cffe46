package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/suiterun/internal/catalog"
	"github.com/deixis/suiterun/internal/history"
	"github.com/deixis/suiterun/internal/run"
	"github.com/deixis/suiterun/internal/runner"
)

func sh(script string) catalog.Command {
	return catalog.Command{Program: "sh", Args: []string{"-c", script}}
}

func testCatalog() *catalog.Static {
	return catalog.New(
		catalog.Suite{Name: "unit", Command: catalog.Command{Program: "echo", Args: []string{`{"passed":3,"failed":0}`}}},
		catalog.Suite{Name: "flaky", Command: sh("echo boom >&2; exit 1")},
		catalog.Suite{Name: "slow", Command: catalog.Command{Program: "sleep", Args: []string{"30"}}},
		catalog.Suite{Name: "quiet", Command: sh("echo 'compiler exploded' >&2")},
		catalog.Suite{Name: "garbage", Command: catalog.Command{Program: "echo", Args: []string{"not json"}}},
		catalog.Suite{Name: "silent", Command: catalog.Command{Program: "true"}},
		catalog.Suite{Name: "lint", Command: catalog.Command{Program: "echo", Args: []string{`{"Issues":[]}`}}, Decoder: catalog.Golangci},
		catalog.Suite{Name: "absent", Command: catalog.Command{Program: "/nonexistent/suiterun-test-binary"}},
	)
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	rn := &runner.Runner{Workspace: t.TempDir(), MaxOutput: 1 << 16, Logger: zerolog.Nop()}
	r := New(testCatalog(), rn, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

// waitDone polls until run id reaches a terminal status.
func waitDone(t *testing.T, r *Registry, id string) run.Status {
	t.Helper()
	var st run.Status
	require.Eventually(t, func() bool {
		var err error
		st, err = r.Status(id)
		return err == nil && st.Done()
	}, 10*time.Second, 5*time.Millisecond, "run %s never finished", id)
	return st
}

// waitArchived polls until the live table is empty.
func waitArchived(t *testing.T, r *Registry) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.runs) == 0
	}, 10*time.Second, 5*time.Millisecond)
}

func TestStart_Completed(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	st := waitDone(t, r, id)
	assert.Equal(t, "unit", st.Suite)
	assert.Equal(t, run.Completed, st.Status)
	assert.Empty(t, st.Error)
	assert.Equal(t, map[string]any{"passed": 3.0, "failed": 0.0}, st.Result)
	require.NotNil(t, st.Finished)
}

func TestStart_NonZeroExit(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "flaky")
	require.NoError(t, err)

	st := waitDone(t, r, id)
	assert.Equal(t, run.Failed, st.Status)
	assert.Equal(t, run.KindSpawn, st.ErrorKind)
	assert.Contains(t, st.Error, "boom")
	assert.Nil(t, st.Result)
}

func TestStart_UnknownSuite(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Start(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, run.IsNotFound(err))
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Zero(t, r.seq.Issued())
	assert.Empty(t, r.List())

	id, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	assert.Equal(t, "1", id, "a failed start must not consume an identifier")
}

func TestStart_ActiveImmediately(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "slow")
	require.NoError(t, err)

	st, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, run.Active, st.Status)
	assert.GreaterOrEqual(t, st.Runtime, int64(0))
	assert.Nil(t, st.Finished)
}

func TestStart_SpawnFailure(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "absent")
	require.NoError(t, err, "launch failures are recorded, not returned")

	st := waitDone(t, r, id)
	assert.Equal(t, run.Failed, st.Status)
	assert.Equal(t, run.KindSpawn, st.ErrorKind)
}

func TestStart_StderrWithoutStdout(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "quiet")
	require.NoError(t, err)

	st := waitDone(t, r, id)
	assert.Equal(t, run.Failed, st.Status)
	assert.Equal(t, run.KindOutput, st.ErrorKind)
	assert.Contains(t, st.Error, "compiler exploded")
}

func TestStart_DecodeFailure(t *testing.T) {
	r := newTestRegistry(t)

	for _, suite := range []string{"garbage", "silent"} {
		id, err := r.Start(context.Background(), suite)
		require.NoError(t, err)

		st := waitDone(t, r, id)
		assert.Equal(t, run.Failed, st.Status, suite)
		assert.Equal(t, run.KindDecode, st.ErrorKind, suite)
	}
}

func TestStart_CancelledContext(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Start(ctx, "unit")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.seq.Issued())
}

func TestStart_IdentifiersIncrease(t *testing.T) {
	r := newTestRegistry(t)

	prev := 0
	for range 5 {
		id, err := r.Start(context.Background(), "unit")
		require.NoError(t, err)
		n, err := strconv.Atoi(id)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestStart_ConcurrentIdentifiersDistinct(t *testing.T) {
	r := newTestRegistry(t)

	const n = 20
	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Start(context.Background(), "unit")
			assert.NoError(t, err)
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return run.Less(ids[i], ids[j]) })
	want := make([]string, n)
	for i := range want {
		want[i] = strconv.Itoa(i + 1)
	}
	assert.Equal(t, want, ids)

	for _, id := range ids {
		waitDone(t, r, id)
	}
}

func TestStatus_UnknownID(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"1", "0", "abc", ""} {
		_, err := r.Status(id)
		assert.True(t, run.IsNotFound(err), "Status(%q)", id)
		assert.True(t, run.IsNotFound(r.Cancel(id)), "Cancel(%q)", id)
	}
}

func TestStatus_RuntimeFrozen(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	first := waitDone(t, r, id)

	time.Sleep(20 * time.Millisecond)
	second, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Runtime, second.Runtime)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStatus_RuntimeGrowsWhileActive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(t, WithClock(clock.Now))

	id, err := r.Start(context.Background(), "slow")
	require.NoError(t, err)

	st, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Runtime)

	clock.Advance(1500 * time.Millisecond)
	st, err = r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, run.Active, st.Status)
	assert.Equal(t, int64(1500), st.Runtime)
}

func TestCancel_Active(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "slow")
	require.NoError(t, err)
	require.NoError(t, r.Cancel(id))

	st := waitDone(t, r, id)
	assert.Equal(t, run.Cancelled, st.Status)
	assert.NotEmpty(t, st.Error)
	assert.Nil(t, st.Result)

	require.NoError(t, r.Cancel(id), "second cancel is a no-op")
	st, err = r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, run.Cancelled, st.Status)
}

func TestCancel_AfterFinish(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	before := waitDone(t, r, id)

	require.NoError(t, r.Cancel(id))
	after, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, run.Completed, after.Status)
	assert.Equal(t, before.Runtime, after.Runtime)
}

func TestCancel_SpawnFailure(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "absent")
	require.NoError(t, err)
	require.NoError(t, r.Cancel(id))

	st := waitDone(t, r, id)
	assert.Equal(t, run.Failed, st.Status, "a process that never ran cannot be cancelled")
}

func TestHistory_ArchivesFinishedRuns(t *testing.T) {
	disk := history.NewDiskStore()
	t.Cleanup(func() { _ = disk.Close() })
	r := newTestRegistry(t, WithHistory(history.NewLRUStore(1, disk)))

	id1, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	first := waitDone(t, r, id1)
	waitArchived(t, r)

	id2, err := r.Start(context.Background(), "flaky")
	require.NoError(t, err)
	waitDone(t, r, id2)
	waitArchived(t, r)

	// Run 1 was evicted from memory and is served from disk.
	st, err := r.Status(id1)
	require.NoError(t, err)
	assert.Equal(t, run.Completed, st.Status)
	assert.Equal(t, first.Runtime, st.Runtime)
	assert.Equal(t, first.Result, st.Result)

	require.NoError(t, r.Cancel(id1))
	assert.True(t, run.IsNotFound(r.Cancel("99")))
}

func TestHistory_RestoresDecodedResult(t *testing.T) {
	disk := history.NewDiskStore()
	t.Cleanup(func() { _ = disk.Close() })
	r := newTestRegistry(t, WithHistory(history.NewLRUStore(1, disk)))

	id1, err := r.Start(context.Background(), "lint")
	require.NoError(t, err)
	first := waitDone(t, r, id1)
	require.IsType(t, &catalog.LintSummary{}, first.Result)
	waitArchived(t, r)

	id2, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	waitDone(t, r, id2)
	waitArchived(t, r)

	st, err := r.Status(id1)
	require.NoError(t, err)
	summary, ok := st.Result.(*catalog.LintSummary)
	require.True(t, ok, "result reloaded as %T", st.Result)
	assert.Equal(t, "OK", summary.Status)
	assert.Empty(t, summary.Issues)
}

func TestStart_LogsPid(t *testing.T) {
	var buf syncBuffer
	r := newTestRegistry(t, WithLogger(zerolog.New(&buf)))

	id, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	waitDone(t, r, id)

	var started map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		if ev["message"] == "run started" {
			started = ev
		}
	}
	require.NotNil(t, started, buf.String())
	assert.Equal(t, "1", started["run_id"])
	assert.Greater(t, started["pid"], 0.0)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHistory_EvictedWithoutBackingStore(t *testing.T) {
	r := newTestRegistry(t, WithHistory(history.NewLRUStore(1, nil)))

	id1, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	waitDone(t, r, id1)
	waitArchived(t, r)

	id2, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	waitDone(t, r, id2)
	waitArchived(t, r)

	_, err = r.Status(id1)
	assert.True(t, run.IsNotFound(err))

	st, err := r.Status(id2)
	require.NoError(t, err)
	assert.Equal(t, run.Completed, st.Status)
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, WithHistory(history.NewLRUStore(8, nil)))

	done, err := r.Start(context.Background(), "unit")
	require.NoError(t, err)
	waitDone(t, r, done)
	waitArchived(t, r)

	active, err := r.Start(context.Background(), "slow")
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, done, list[0].ID)
	assert.Equal(t, run.Completed, list[0].Status)
	assert.Equal(t, active, list[1].ID)
	assert.Equal(t, run.Active, list[1].Status)
}

func TestClose(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Start(context.Background(), "slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	st, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, run.Cancelled, st.Status, "Close waits for the exit to be recorded")

	_, err = r.Start(context.Background(), "unit")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, r.Close(ctx))
}

func TestClose_DuringStarts(t *testing.T) {
	r := newTestRegistry(t)

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, err := r.Start(context.Background(), "slow")
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}

	require.Eventually(t, func() bool { return r.seq.Issued() >= 4 }, 10*time.Second, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	wg.Wait()

	// Every id handed out before or during Close ends cancelled, none leak.
	for _, id := range ids {
		st, err := r.Status(id)
		require.NoError(t, err)
		assert.Equal(t, run.Cancelled, st.Status, "run %s", id)
	}
}

func TestSuites(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"absent", "flaky", "garbage", "lint", "quiet", "silent", "slow", "unit"}, r.Suites())
}
