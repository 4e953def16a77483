package database_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/msomdec/minddump/internal/bridge"
	"github.com/msomdec/minddump/internal/database"
	"github.com/msomdec/minddump/internal/migrations"
	"github.com/msomdec/minddump/internal/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestAccessor(t *testing.T, opts ...database.Option) *database.Accessor {
	t.Helper()
	a := database.New(filepath.Join(t.TempDir(), "db.sqlite3"), opts...)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAccessor_FirstAcquireMigrates(t *testing.T) {
	a := newTestAccessor(t)
	ctx := context.Background()

	tok, err := a.Acquire(ctx)
	require.NoError(t, err)
	defer tok.Release()

	rows, err := tok.Value.Execute(ctx, "SELECT name FROM _migrations")
	require.NoError(t, err)
	require.Equal(t, []sqlite.Row{{strconv.FormatInt(migrations.InitialSchema, 10)}}, rows)

	rows, err = tok.Value.Execute(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('giphy', 'notes') ORDER BY name")
	require.NoError(t, err)
	require.Equal(t, []sqlite.Row{{"giphy"}, {"notes"}}, rows)
}

func TestAccessor_ConcurrentFirstCallsStartOneWorker(t *testing.T) {
	var opens atomic.Int32
	opener := func(ctx context.Context, path string, logger *slog.Logger) (*sqlite.Engine, error) {
		opens.Add(1)
		return sqlite.Open(ctx, path, logger)
	}
	a := newTestAccessor(t, database.WithDispatcherOptions(bridge.WithOpener(opener)))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := a.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer tok.Release()
			if _, err := tok.Value.Execute(ctx, "SELECT 1"); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), opens.Load())
}

func TestAccessor_SequentialCallersNeverOverlap(t *testing.T) {
	a := newTestAccessor(t)
	ctx := context.Background()

	var active, peak atomic.Int32
	run := func(id int) error {
		return a.With(ctx, func(p *bridge.Proxy) error {
			if n := active.Add(1); n > peak.Load() {
				peak.Store(n)
			}
			defer active.Add(-1)

			if _, err := p.Execute(ctx, "INSERT OR REPLACE INTO giphy (id, json) VALUES (?, ?)", strconv.Itoa(id), "{}"); err != nil {
				return err
			}
			_, err := p.Execute(ctx, "SELECT COUNT(*) FROM giphy")
			return err
		})
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(i); err != nil {
				t.Errorf("run %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), peak.Load())
}

func TestAccessor_ReleaseOnErrorPath(t *testing.T) {
	a := newTestAccessor(t)
	ctx := context.Background()

	err := a.With(ctx, func(p *bridge.Proxy) error {
		_, err := p.Execute(ctx, "SELECT * FROM no_such_table")
		return err
	})
	var execErr *bridge.ExecError
	require.ErrorAs(t, err, &execErr)

	// The lock is free again.
	tok, err := a.Acquire(ctx)
	require.NoError(t, err)
	tok.Release()
}

func TestAccessor_CloseReturnsWorkerError(t *testing.T) {
	boom := errors.New("boom")
	a := database.New(filepath.Join(t.TempDir(), "db.sqlite3"), database.WithDispatcherOptions(
		bridge.WithUnits([]migrations.Unit{{
			Order:   1,
			Migrate: func(ctx context.Context, tx sqlite.Execer) error { return boom },
		}}),
	))
	ctx := context.Background()

	tok, err := a.Acquire(ctx)
	require.NoError(t, err)
	_, err = tok.Value.Execute(ctx, "SELECT 1")
	tok.Release()
	require.ErrorIs(t, err, bridge.ErrWorkerGone)

	require.ErrorIs(t, a.Close(), boom)
}

func TestAccessor_CloseBeforeUse(t *testing.T) {
	a := database.New("")
	require.NoError(t, a.Close())

	_, err := a.Acquire(context.Background())
	require.ErrorIs(t, err, database.ErrClosed)
}

func TestAccessor_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite3")
	ctx := context.Background()

	first := database.New(path)
	require.NoError(t, first.With(ctx, func(p *bridge.Proxy) error {
		_, err := p.Execute(ctx, "INSERT INTO giphy (id, json) VALUES (?, ?)", "g1", "{}")
		return err
	}))
	require.NoError(t, first.Close())

	second := database.New(path)
	defer second.Close()
	require.NoError(t, second.With(ctx, func(p *bridge.Proxy) error {
		rows, err := p.Execute(ctx, "SELECT id FROM giphy")
		if err != nil {
			return err
		}
		require.Equal(t, []sqlite.Row{{"g1"}}, rows)

		rows, err = p.Execute(ctx, "SELECT COUNT(*) FROM _migrations")
		if err != nil {
			return err
		}
		require.Equal(t, int64(1), rows[0][0])
		return nil
	}))
}

func TestAccessor_Ping(t *testing.T) {
	a := newTestAccessor(t)
	require.NoError(t, a.Ping(context.Background()))
}
