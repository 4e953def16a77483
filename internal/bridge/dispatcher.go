package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/msomdec/minddump/internal/migrations"
	"github.com/msomdec/minddump/internal/sqlite"
)

// Opener opens the database for an INITIALIZE request.
type Opener func(ctx context.Context, path string, logger *slog.Logger) (*sqlite.Engine, error)

// Dispatcher owns the only handle to the database. It serves one message at a
// time, in arrival order, from a single goroutine.
type Dispatcher struct {
	open   Opener
	units  []migrations.Unit
	logger *slog.Logger

	engine *sqlite.Engine
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithUnits replaces the migration units run on INITIALIZE.
func WithUnits(units []migrations.Unit) DispatcherOption {
	return func(d *Dispatcher) { d.units = units }
}

// WithOpener replaces sqlite.Open.
func WithOpener(open Opener) DispatcherOption {
	return func(d *Dispatcher) { d.open = open }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a Dispatcher that migrates with the registered units.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		open:   sqlite.Open,
		units:  migrations.Registered(),
		logger: slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Serve processes requests from ep until ep.In is closed or ctx ends. A
// failed INITIALIZE is fatal and returned; statement failures are reported to
// the caller and never stop the loop. Serve closes ep.Out and the database
// when it returns.
func (d *Dispatcher) Serve(ctx context.Context, ep Endpoint) error {
	defer close(ep.Out)
	defer func() {
		if d.engine != nil {
			if err := d.engine.Close(); err != nil {
				d.logger.Warn("close database", "error", err)
			}
			d.engine = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ep.In:
			if !ok {
				return nil
			}
			if err := d.handle(ctx, ep, msg); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ep Endpoint, msg []byte) error {
	var req Request
	if err := unmarshal(msg, &req); err != nil {
		d.logger.Error("decode request", "error", err)
		return nil
	}

	switch req.Type {
	case Initialize:
		return d.initialize(ctx, req.Path)
	case Execute:
		return d.send(ctx, ep, d.execute(ctx, req))
	default:
		d.logger.Warn("unexpected request type", "type", req.Type, "id", req.ID)
		if req.ID == 0 {
			return nil
		}
		return d.send(ctx, ep, Response{
			ID:    req.ID,
			Type:  ExecuteResponseError,
			Error: &ExecError{Message: fmt.Sprintf("unexpected request type %s", req.Type)},
		})
	}
}

func (d *Dispatcher) initialize(ctx context.Context, path string) error {
	if d.engine != nil {
		d.logger.Warn("database already initialized", "path", d.engine.Path())
		return nil
	}

	engine, err := d.open(ctx, path, d.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	runner := migrations.NewRunner(engine, migrations.WithLogger(d.logger))
	n, err := runner.Perform(ctx, d.units)
	if err != nil {
		engine.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	d.engine = engine
	d.logger.Info("database initialized", "path", engine.Path(), "persistent", engine.Persistent(), "migrations", n)
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request) Response {
	if d.engine == nil {
		return Response{
			ID:    req.ID,
			Type:  ExecuteResponseError,
			Error: &ExecError{Message: "database not initialized"},
		}
	}

	rows, err := d.engine.Exec(ctx, req.SQL, req.Bind...)
	if err != nil {
		d.logger.Debug("statement failed", "id", req.ID, "error", err)
		return Response{
			ID:    req.ID,
			Type:  ExecuteResponseError,
			Error: &ExecError{Message: err.Error(), Code: sqlite.ErrorCode(err)},
		}
	}
	return Response{ID: req.ID, Type: ExecuteResponseSuccess, Rows: rows}
}

func (d *Dispatcher) send(ctx context.Context, ep Endpoint, resp Response) error {
	data, err := marshal(resp)
	if err != nil {
		// The caller is still waiting on this id, so answer with the
		// encoding failure instead.
		d.logger.Error("encode response", "id", resp.ID, "error", err)
		data, err = marshal(Response{
			ID:    resp.ID,
			Type:  ExecuteResponseError,
			Error: &ExecError{Message: fmt.Sprintf("encode response: %v", err)},
		})
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}

	select {
	case ep.Out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
