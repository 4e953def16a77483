package migrations_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/msomdec/minddump/internal/migrations"
	"github.com/msomdec/minddump/internal/sqlite"
)

func newTestEngine(t *testing.T) *sqlite.Engine {
	t.Helper()
	e, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func countRows(t *testing.T, e *sqlite.Engine, query string) int64 {
	t.Helper()
	rows, err := e.Exec(context.Background(), query)
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return rows[0][0].(int64)
}

func TestRunMigrations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	n, err := migrations.Run(ctx, e)
	if err != nil {
		t.Fatalf("first migration run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 migration performed, got %d", n)
	}

	// Both tables exist and the foreign key is enforced.
	if _, err := e.Exec(ctx, "INSERT INTO giphy (id, json) VALUES (?, ?)", "g1", "{}"); err != nil {
		t.Fatalf("insert into giphy: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO notes (title, content, giphy_id) VALUES (?, ?, ?)", "t", "{}", "g1"); err != nil {
		t.Fatalf("insert into notes: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO notes (title, content, giphy_id) VALUES (?, ?, ?)", "t", "{}", "missing"); err == nil {
		t.Fatal("expected foreign key violation for unknown giphy_id")
	}

	rows, err := e.Exec(ctx, "SELECT name FROM _migrations")
	if err != nil {
		t.Fatalf("select _migrations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 migration record, got %d", len(rows))
	}
	if rows[0][0] != strconv.FormatInt(migrations.InitialSchema, 10) {
		t.Fatalf("expected record named %d, got %v", migrations.InitialSchema, rows[0][0])
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := migrations.Run(ctx, e); err != nil {
		t.Fatalf("first run: %v", err)
	}
	n, err := migrations.Run(ctx, e)
	if err != nil {
		t.Fatalf("second run (idempotent): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no migrations on second run, got %d", n)
	}

	if count := countRows(t, e, "SELECT COUNT(*) FROM _migrations"); count != 1 {
		t.Fatalf("expected 1 migration record, got %d", count)
	}
}

func TestPerform_AppliesEachUnitOnceInOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	runner := migrations.NewRunner(e)

	var calls []int64
	unit := func(order int64) migrations.Unit {
		return migrations.Unit{Order: order, Migrate: func(ctx context.Context, tx sqlite.Execer) error {
			calls = append(calls, order)
			return nil
		}}
	}
	units := []migrations.Unit{unit(30), unit(10), unit(20)}

	if _, err := runner.Perform(ctx, units); err != nil {
		t.Fatalf("first Perform: %v", err)
	}
	if _, err := runner.Perform(ctx, units); err != nil {
		t.Fatalf("second Perform: %v", err)
	}

	want := []int64{10, 20, 30}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected call order %v, got %v", want, calls)
		}
	}

	// The caller's slice is left untouched.
	if units[0].Order != 30 {
		t.Fatalf("expected input order preserved, got %d first", units[0].Order)
	}
}

func TestPerform_LaterUnitAppliedOnNextRun(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	runner := migrations.NewRunner(e)

	noop := func(ctx context.Context, tx sqlite.Execer) error { return nil }

	if _, err := runner.Perform(ctx, []migrations.Unit{{Order: 1, Migrate: noop}}); err != nil {
		t.Fatalf("first Perform: %v", err)
	}
	n, err := runner.Perform(ctx, []migrations.Unit{{Order: 1, Migrate: noop}, {Order: 2, Migrate: noop}})
	if err != nil {
		t.Fatalf("second Perform: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the new unit to run, got %d", n)
	}
}

func TestPerform_FailureRollsBack(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	runner := migrations.NewRunner(e)

	boom := errors.New("boom")
	units := []migrations.Unit{
		{Order: 1, Migrate: func(ctx context.Context, tx sqlite.Execer) error {
			_, err := tx.Exec(ctx, "CREATE TABLE ok (id INTEGER)")
			return err
		}},
		{Order: 2, Migrate: func(ctx context.Context, tx sqlite.Execer) error {
			if _, err := tx.Exec(ctx, "CREATE TABLE half (id INTEGER)"); err != nil {
				return err
			}
			return boom
		}},
	}

	n, err := runner.Perform(ctx, units)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unit applied before the failure, got %d", n)
	}

	if count := countRows(t, e, "SELECT COUNT(*) FROM _migrations"); count != 1 {
		t.Fatalf("expected only the first record, got %d", count)
	}
	if count := countRows(t, e, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'"); count != 0 {
		t.Fatal("expected failed unit's table to be rolled back")
	}
}

func TestPerform_DuplicateOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	applied := false
	fn := func(ctx context.Context, tx sqlite.Execer) error {
		applied = true
		return nil
	}

	_, err := migrations.NewRunner(e).Perform(ctx, []migrations.Unit{
		{Order: 5, Migrate: fn},
		{Order: 5, Migrate: fn},
	})
	if !errors.Is(err, migrations.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if applied {
		t.Fatal("expected no unit to run")
	}
}

func TestPerform_CustomTable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	runner := migrations.NewRunner(e, migrations.WithTable("schema_history"))
	if _, err := runner.Perform(ctx, migrations.Registered()); err != nil {
		t.Fatalf("Perform: %v", err)
	}

	if count := countRows(t, e, "SELECT COUNT(*) FROM schema_history"); count != 1 {
		t.Fatalf("expected 1 record in custom table, got %d", count)
	}
}
