package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/msomdec/minddump/internal/sqlite"
)

var (
	// ErrProtocolDesync means a response arrived for an id with no pending
	// request. The proxy is unusable afterwards.
	ErrProtocolDesync = errors.New("protocol desync")
	// ErrWorkerGone means the dispatcher stopped answering by closing its
	// end of the boundary.
	ErrWorkerGone = errors.New("database worker terminated")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("database proxy closed")
)

type result struct {
	resp Response
	err  error
}

// Proxy turns calls into correlated request and response messages to a
// Dispatcher.
type Proxy struct {
	ep     Endpoint
	logger *slog.Logger

	// sendMu orders id assignment with transmission so ids reach the
	// dispatcher in increasing order.
	sendMu  sync.Mutex
	nextID  int64
	closing atomic.Bool

	mu      sync.Mutex
	pending map[int64]chan result
	err     error

	done chan struct{}
}

// NewProxy sends INITIALIZE for path over ep and starts reading responses.
func NewProxy(ep Endpoint, path string, logger *slog.Logger) (*Proxy, error) {
	if logger == nil {
		logger = slog.Default().With("component", "proxy")
	}

	data, err := marshal(Request{Type: Initialize, Path: path})
	if err != nil {
		return nil, fmt.Errorf("encode initialize request: %w", err)
	}

	p := &Proxy{
		ep:      ep,
		logger:  logger,
		pending: make(map[int64]chan result),
		done:    make(chan struct{}),
	}
	ep.Out <- data

	go p.receive()
	return p, nil
}

// Perform sends req with a fresh id and waits for the matching response. If
// ctx ends first the request stays pending, so a late response is still
// matched rather than treated as a desync.
func (p *Proxy) Perform(ctx context.Context, req Request) (Response, error) {
	ch, err := p.send(ctx, req)
	if err != nil {
		return Response{}, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (p *Proxy) send(ctx context.Context, req Request) (chan result, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.closing.Load() {
		return nil, ErrClosed
	}

	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	id := p.nextID
	ch := make(chan result, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	req.ID = id
	data, err := marshal(req)
	if err != nil {
		p.forget(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}

	select {
	case p.ep.Out <- data:
		return ch, nil
	case <-p.done:
		p.forget(id)
		return nil, p.failure()
	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()
	}
}

// Execute runs query on the dispatcher and returns its rows. A statement
// failure is returned as *ExecError.
func (p *Proxy) Execute(ctx context.Context, query string, bind ...any) ([]sqlite.Row, error) {
	resp, err := p.Perform(ctx, Request{Type: Execute, SQL: query, Bind: bind})
	if err != nil {
		return nil, err
	}

	switch resp.Type {
	case ExecuteResponseSuccess:
		return resp.Rows, nil
	case ExecuteResponseError:
		if resp.Error == nil {
			return nil, &ExecError{Message: "unknown error"}
		}
		return nil, resp.Error
	}
	return nil, fmt.Errorf("%w: unexpected response type %s", ErrProtocolDesync, resp.Type)
}

// Pending returns the ids still awaiting a response, in ascending order.
func (p *Proxy) Pending() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int64, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Err returns the error that made the proxy unusable, if any.
func (p *Proxy) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the dispatcher has closed its end.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// Close stops sending. The dispatcher finishes the requests it already holds
// and then exits; Done reports when it has.
func (p *Proxy) Close() error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.closing.Swap(true) {
		return nil
	}
	close(p.ep.Out)
	return nil
}

func (p *Proxy) receive() {
	defer close(p.done)

	for msg := range p.ep.In {
		var resp Response
		if err := unmarshal(msg, &resp); err != nil {
			p.fail(fmt.Errorf("%w: decode response: %v", ErrProtocolDesync, err))
			continue
		}

		p.mu.Lock()
		if p.err != nil {
			p.mu.Unlock()
			continue
		}
		ch, ok := p.pending[resp.ID]
		if !ok {
			p.mu.Unlock()
			p.fail(fmt.Errorf("%w: unexpected response for id %d", ErrProtocolDesync, resp.ID))
			continue
		}
		delete(p.pending, resp.ID)
		p.mu.Unlock()

		ch <- result{resp: resp}
	}

	p.fail(ErrWorkerGone)
}

// fail moves the proxy into its terminal state and fails every pending call.
// Only the first failure is kept.
func (p *Proxy) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return
	}
	p.err = err

	if errors.Is(err, ErrWorkerGone) && p.closing.Load() {
		p.logger.Debug("database worker stopped")
	} else {
		p.logger.Error("database proxy failed", "error", err, "pending", len(p.pending))
	}

	for id, ch := range p.pending {
		ch <- result{err: err}
		delete(p.pending, id)
	}
}

func (p *Proxy) forget(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Proxy) failure() error {
	if err := p.Err(); err != nil {
		return err
	}
	return ErrWorkerGone
}
