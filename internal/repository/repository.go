// Package repository implements the domain repositories on top of the
// database accessor. Every method holds the writer lock for exactly the
// statements it issues and releases it on every path.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/msomdec/minddump/internal/bridge"
	"github.com/msomdec/minddump/internal/database"
	"github.com/msomdec/minddump/internal/domain"
	"github.com/msomdec/minddump/internal/sqlite"
)

// Acquirer hands out exclusive access to the database.
type Acquirer interface {
	Acquire(ctx context.Context) (*database.Token, error)
}

// Option configures a repository.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the repository's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default().With("component", "repository")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// timestampLayout is the text form SQLite's CURRENT_TIMESTAMP produces.
const timestampLayout = "2006-01-02 15:04:05"

// inTx runs fn between BEGIN and COMMIT on the proxy. The caller must hold
// the lock for the whole call so no other statement lands inside the
// transaction.
//
// BEGIN, COMMIT and ROLLBACK ignore ctx cancellation. A statement already
// handed to the worker runs regardless, so giving up on its answer would
// leave the only connection inside an open transaction.
func inTx(ctx context.Context, p *bridge.Proxy, logger *slog.Logger, fn func() error) error {
	tctx := context.WithoutCancel(ctx)

	if _, err := p.Execute(tctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(); err != nil {
		rollback(tctx, p, logger)
		return err
	}

	if _, err := p.Execute(tctx, "COMMIT"); err != nil {
		rollback(tctx, p, logger)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, p *bridge.Proxy, logger *slog.Logger) {
	if _, err := p.Execute(ctx, "ROLLBACK"); err != nil {
		logger.Warn("rollback transaction", "error", err)
	}
}

// mapError turns constraint failures reported by the engine into
// domain.ErrConstraint.
func mapError(err error) error {
	var execErr *bridge.ExecError
	if errors.As(err, &execErr) && sqlite.IsConstraint(execErr.Code) {
		return fmt.Errorf("%w: %s", domain.ErrConstraint, execErr.Message)
	}
	return err
}

// scanRow copies the columns of row into dest, converting each value to the
// destination's type. Supported destinations are *int64, *string, *[]byte,
// *json.RawMessage and *time.Time.
func scanRow(row sqlite.Row, dest ...any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("scan: row has %d columns, want %d", len(row), len(dest))
	}

	for i, v := range row {
		var err error
		switch d := dest[i].(type) {
		case *int64:
			*d, err = asInt64(v)
		case *string:
			*d, err = asString(v)
		case *[]byte:
			var s string
			s, err = asString(v)
			*d = []byte(s)
		case *json.RawMessage:
			var s string
			s, err = asString(v)
			*d = json.RawMessage(s)
		case *time.Time:
			*d, err = asTime(v)
		default:
			err = fmt.Errorf("unsupported destination %T", dest[i])
		}
		if err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("cannot convert %T to int64", v)
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		t, err := time.ParseInLocation(timestampLayout, x, time.UTC)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

// likePattern matches query anywhere in a column, treating % and _ in the
// query literally. Use with ESCAPE '\'.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
