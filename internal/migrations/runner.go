package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/msomdec/minddump/internal/sqlite"
)

// DefaultTable is the bookkeeping table that records applied units.
const DefaultTable = "_migrations"

// ErrDuplicateOrder is returned when two units share an Order. The order
// doubles as the bookkeeping name, so duplicates could not be told apart.
var ErrDuplicateOrder = errors.New("duplicate migration order")

// Unit is one schema change. Order is both its position in the sequence and
// its identity in the bookkeeping table.
type Unit struct {
	Order   int64
	Migrate func(ctx context.Context, tx sqlite.Execer) error
}

// Name is the bookkeeping name recorded for the unit.
func (u Unit) Name() string {
	return strconv.FormatInt(u.Order, 10)
}

// Engine is the part of *sqlite.Engine the runner needs.
type Engine interface {
	sqlite.Execer
	Transaction(ctx context.Context, fn func(tx sqlite.Execer) error) error
}

// Runner applies units to an engine exactly once each.
type Runner struct {
	engine Engine
	table  string
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(r *Runner) { r.table = name }
}

// WithLogger sets the logger used for progress messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner for engine.
func NewRunner(engine Engine, opts ...Option) *Runner {
	r := &Runner{
		engine: engine,
		table:  DefaultTable,
		logger: slog.Default().With("component", "migrator"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Perform applies every unit not yet recorded, in ascending Order, and
// returns how many were applied. Each unit runs in its own transaction
// together with its bookkeeping insert; a failing unit leaves no record and
// stops the run.
func (r *Runner) Perform(ctx context.Context, units []Unit) (int, error) {
	sorted := slices.Clone(units)
	slices.SortStableFunc(sorted, func(a, b Unit) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Order == sorted[i-1].Order {
			return 0, fmt.Errorf("%w: %d", ErrDuplicateOrder, sorted[i].Order)
		}
	}

	if err := r.ensureTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := r.applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied migrations: %w", err)
	}

	count := 0
	for _, unit := range sorted {
		name := unit.Name()
		if applied[name] {
			r.logger.Debug("migration already applied", "name", name)
			continue
		}

		r.logger.Debug("performing migration", "name", name)
		if err := r.apply(ctx, unit); err != nil {
			return count, fmt.Errorf("apply migration %s: %w", name, err)
		}
		count++
	}

	r.logger.Debug("performed migrations", "count", count)
	return count, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.engine.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s` (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, created_at INTEGER DEFAULT CURRENT_TIMESTAMP)",
		r.table,
	))
	return err
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := r.engine.Exec(ctx, fmt.Sprintf("SELECT name FROM `%s` ORDER BY id ASC", r.table))
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		name, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected migration name %v", row[0])
		}
		applied[name] = true
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, unit Unit) error {
	return r.engine.Transaction(ctx, func(tx sqlite.Execer) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO `%s` (name) VALUES (?)", r.table), unit.Name()); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		if err := unit.Migrate(ctx, tx); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
		return nil
	})
}

// Run applies the registered units to engine.
func Run(ctx context.Context, engine Engine) (int, error) {
	return NewRunner(engine).Perform(ctx, Registered())
}
