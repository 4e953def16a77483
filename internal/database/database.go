// Package database wires the proxy, the dispatcher and the writer lock into
// the one handle the rest of the application uses.
//
// Construct a single Accessor at startup with New and pass it to every
// consumer. The dispatcher starts on the first Acquire.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/msomdec/minddump/internal/bridge"
	"github.com/msomdec/minddump/internal/lock"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "db.sqlite3"

// ErrClosed is returned by Acquire on an Accessor closed before first use.
var ErrClosed = errors.New("database accessor closed")

// Token is an exclusive grant on the database proxy.
type Token = lock.Token[*bridge.Proxy]

// Accessor lazily starts the database worker and serializes access to it.
type Accessor struct {
	path   string
	buffer int
	opts   []bridge.DispatcherOption
	logger *slog.Logger

	once   sync.Once
	err    error
	proxy  *bridge.Proxy
	locker *lock.Locker[*bridge.Proxy]
	group  *errgroup.Group
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithDispatcherOptions passes options through to the dispatcher.
func WithDispatcherOptions(opts ...bridge.DispatcherOption) Option {
	return func(a *Accessor) { a.opts = append(a.opts, opts...) }
}

// WithLogger sets the logger for the accessor and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accessor) { a.logger = logger }
}

// WithBuffer sets how many messages may queue in each direction.
func WithBuffer(n int) Option {
	return func(a *Accessor) { a.buffer = n }
}

// New returns an Accessor for the database at path. Nothing is opened until
// the first Acquire.
func New(path string, opts ...Option) *Accessor {
	if path == "" {
		path = DefaultPath
	}
	a := &Accessor{
		path:   path,
		buffer: 64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns an exclusive token on the database. The caller must
// release it on every path.
func (a *Accessor) Acquire(ctx context.Context) (*Token, error) {
	if err := a.start(); err != nil {
		return nil, err
	}
	return a.locker.Acquire(ctx)
}

// With runs fn with exclusive access to the proxy.
func (a *Accessor) With(ctx context.Context, fn func(*bridge.Proxy) error) error {
	if err := a.start(); err != nil {
		return err
	}
	return a.locker.With(ctx, fn)
}

// Ping runs a trivial query through the worker.
func (a *Accessor) Ping(ctx context.Context) error {
	return a.With(ctx, func(p *bridge.Proxy) error {
		_, err := p.Execute(ctx, "SELECT 1")
		return err
	})
}

func (a *Accessor) start() error {
	a.once.Do(func() {
		client, worker := bridge.Pipe(a.buffer)

		opts := append([]bridge.DispatcherOption{
			bridge.WithLogger(a.logger.With("component", "dispatcher")),
		}, a.opts...)
		dispatcher := bridge.NewDispatcher(opts...)

		a.group = new(errgroup.Group)
		a.group.Go(func() error {
			err := dispatcher.Serve(context.Background(), worker)
			if err != nil {
				a.logger.Error("database worker stopped", "error", err)
			}
			return err
		})

		proxy, err := bridge.NewProxy(client, a.path, a.logger.With("component", "proxy"))
		if err != nil {
			a.err = fmt.Errorf("start database proxy: %w", err)
			close(client.Out)
			return
		}
		a.proxy = proxy
		a.locker = lock.New(proxy)
	})
	return a.err
}

// Close stops the worker once it has drained queued requests and returns
// the worker's fatal error, if it had one. Close on an Accessor that never
// started does nothing.
func (a *Accessor) Close() error {
	a.once.Do(func() { a.err = ErrClosed })
	if a.group == nil {
		return nil
	}

	if a.proxy != nil {
		a.proxy.Close()
	}
	return a.group.Wait()
}
