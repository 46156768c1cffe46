// Package registry is the run dispatcher. It issues run identifiers, spawns
// one process per run, finalizes each run when its process exits, and
// serves status and cancellation by identifier.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/deixis/suiterun/internal/catalog"
	"github.com/deixis/suiterun/internal/history"
	"github.com/deixis/suiterun/internal/metrics"
	"github.com/deixis/suiterun/internal/run"
	"github.com/deixis/suiterun/internal/runner"
)

// ErrClosed is returned by Start once the registry has been closed.
var ErrClosed = errors.New("registry closed")

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithHistory moves finished runs out of the live table into store.
// Without a store, finished runs stay in the live table.
func WithHistory(store history.Store) Option {
	return func(r *Registry) { r.history = store }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// lister is implemented by history stores that can enumerate what they hold.
type lister interface {
	List() []*run.Status
}

// Registry owns every run started through it.
type Registry struct {
	catalog catalog.Catalog
	runner  *runner.Runner
	history history.Store
	log     zerolog.Logger
	now     func() time.Time

	seq run.Sequence

	mu     sync.RWMutex
	runs   map[string]*run.Record
	closed bool

	inflight sync.WaitGroup
}

// New returns a Registry that resolves suites through cat and spawns them
// with rn.
func New(cat catalog.Catalog, rn *runner.Runner, opts ...Option) *Registry {
	r := &Registry{
		catalog: cat,
		runner:  rn,
		log:     zerolog.Nop(),
		now:     time.Now,
		runs:    make(map[string]*run.Record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Suites lists the suites that can be started.
func (r *Registry) Suites() []string {
	return r.catalog.Names()
}

// Start spawns suite and returns the new run's identifier without waiting
// for the process. An unknown suite fails with a NotFound error and
// consumes no identifier.
func (r *Registry) Start(ctx context.Context, suite string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !r.catalog.Has(suite) {
		return "", run.NotFound(suite)
	}
	cmd, err := r.catalog.Command(suite)
	if err != nil {
		return "", fmt.Errorf("resolving suite %q: %w", suite, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	id := r.seq.Next()
	r.inflight.Add(1)
	r.mu.Unlock()

	proc := r.runner.Spawn(runner.Command{Argv: cmd.Argv(), Dir: cmd.Dir, Env: cmd.Env})
	rec := run.NewRecord(id, suite, r.now(), proc)

	r.mu.Lock()
	r.runs[id] = rec
	closed := r.closed
	r.mu.Unlock()

	// Close ran while the process was being spawned and could not see it.
	if closed {
		if _, err := rec.Cancel(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.log.Warn().Err(err).Str("run_id", id).Msg("killing run on close")
		}
	}

	metrics.RecordStart(suite)
	r.log.Info().
		Str("run_id", id).
		Str("suite", suite).
		Str("exec_id", proc.ExecID).
		Int("pid", proc.Pid()).
		Msg("run started")

	// The record is already visible, so the callback always finds it.
	proc.Notify(func(exit runner.Exit) {
		defer r.inflight.Done()
		r.finalize(rec, exit)
	})
	return id, nil
}

// finalize settles rec from the process exit.
func (r *Registry) finalize(rec *run.Record, exit runner.Exit) {
	var (
		result any
		err    error
	)
	switch {
	case exit.Err != nil:
		err = run.SpawnError(exit.Err, exit.Stderr)
	case len(exit.Stdout) == 0 && len(exit.Stderr) > 0:
		err = run.OutputError(exit.Stderr)
	default:
		result, err = r.catalog.Decode(rec.Suite, exit.Stdout)
		if err != nil {
			err = run.DecodeError(err)
		}
	}

	now := r.now()
	if !rec.Finalize(now, result, err) {
		return
	}
	st := rec.Snapshot(now)
	metrics.RecordFinish(&st)

	ev := r.log.Info()
	if st.Status != run.Completed {
		ev = r.log.Warn().Str("error", st.Error).Str("error_kind", string(st.ErrorKind))
	}
	ev.Str("run_id", st.ID).
		Str("suite", st.Suite).
		Str("exec_id", exit.ExecID).
		Stringer("status", st.Status).
		Int64("runtime_ms", st.Runtime).
		Int("exit_code", exit.ExitCode).
		Bool("truncated", exit.Truncated).
		Msg("run finished")

	r.archive(&st)
}

// archive moves a finished run into the history store. On a failed save
// the run stays in the live table.
func (r *Registry) archive(st *run.Status) {
	if r.history == nil {
		return
	}
	if err := r.history.Save(st); err != nil {
		r.log.Warn().Err(err).Str("run_id", st.ID).Msg("archiving run")
		return
	}
	r.mu.Lock()
	delete(r.runs, st.ID)
	r.mu.Unlock()
}

// Status returns a snapshot of run id. It never blocks on the process.
func (r *Registry) Status(id string) (run.Status, error) {
	r.mu.RLock()
	rec, ok := r.runs[id]
	r.mu.RUnlock()
	if ok {
		return rec.Snapshot(r.now()), nil
	}
	st, err := r.archived(id)
	if err != nil {
		return run.Status{}, err
	}
	return *st, nil
}

func (r *Registry) archived(id string) (*run.Status, error) {
	if r.history == nil {
		return nil, run.NotFound(id)
	}
	st, err := r.history.Load(id)
	if errors.Is(err, history.ErrNotFound) {
		if n, perr := strconv.ParseUint(id, 10, 64); perr == nil && n > 0 && n <= r.seq.Issued() {
			r.log.Debug().Str("run_id", id).Msg("run evicted from history")
		}
		return nil, run.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %q: %w", id, err)
	}
	if st.Result == nil {
		return st, nil
	}
	result, err := r.catalog.Restore(st.Suite, st.Result)
	if err != nil {
		r.log.Warn().Err(err).Str("run_id", id).Msg("restoring archived result")
		return st, nil
	}
	cp := *st
	cp.Result = result
	return &cp, nil
}

// Cancel kills the process of run id. The run is settled later, when the
// exit is observed. Cancelling a finished run is accepted and does nothing.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	rec, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		_, err := r.archived(id)
		return err
	}

	killed, err := rec.Cancel()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancelling run %q: %w", id, err)
	}
	if killed {
		r.log.Info().Str("run_id", id).Str("suite", rec.Suite).Msg("run cancelled")
	}
	return nil
}

// List returns a snapshot of every run still known, live or archived, in
// identifier order.
func (r *Registry) List() []run.Status {
	now := r.now()
	seen := make(map[string]bool)
	var out []run.Status

	r.mu.RLock()
	for id, rec := range r.runs {
		seen[id] = true
		out = append(out, rec.Snapshot(now))
	}
	r.mu.RUnlock()

	if l, ok := r.history.(lister); ok {
		for _, st := range l.List() {
			if !seen[st.ID] {
				seen[st.ID] = true
				out = append(out, *st)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return run.Less(out[i].ID, out[j].ID) })
	return out
}

// Close rejects further starts, kills every active run and waits for their
// exits to be recorded or for ctx to end.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	active := make([]*run.Record, 0, len(r.runs))
	for _, rec := range r.runs {
		if !rec.State().Terminal() {
			active = append(active, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range active {
		if _, err := rec.Cancel(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.log.Warn().Err(err).Str("run_id", rec.ID).Msg("killing run on close")
		}
	}
	if len(active) > 0 {
		r.log.Info().Int("runs", len(active)).Msg("waiting for active runs")
	}

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
