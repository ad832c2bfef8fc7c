package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Caller is the network side of the chain. *rpc.Client implements it.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

// DialFunc connects to a node.
type DialFunc func(ctx context.Context, url string) (Caller, error)

func dialRPC(ctx context.Context, url string) (Caller, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return client, nil
}

// Forwarder is the terminal subprovider: it sends every request to a node.
// With several URLs the first reachable one is used and calls fail over to the
// next one on transport errors. Error responses from a node never fail over.
type Forwarder struct {
	urls    []string
	callers []Caller
	dial    DialFunc
	mu      sync.RWMutex
	current int
}

// NewForwarder dials every url. Unreachable nodes are redialed on use.
func NewForwarder(ctx context.Context, urls []string) (*Forwarder, error) {
	return newForwarder(ctx, urls, dialRPC)
}

// NewForwarderWithDialer is NewForwarder with a custom dial function.
func NewForwarderWithDialer(ctx context.Context, urls []string, dial DialFunc) (*Forwarder, error) {
	return newForwarder(ctx, urls, dial)
}

// NewCallerForwarder forwards to an already connected caller.
func NewCallerForwarder(caller Caller) *Forwarder {
	return &Forwarder{
		urls:    []string{"injected"},
		callers: []Caller{caller},
	}
}

func newForwarder(ctx context.Context, urls []string, dial DialFunc) (*Forwarder, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	callers := make([]Caller, 0, len(urls))
	connected := 0
	for _, url := range urls {
		caller, err := dial(ctx, url)
		if err != nil {
			log.Warn().
				Str("url", url).
				Err(err).
				Msg("Failed to connect to RPC node, will retry on use")
			callers = append(callers, nil)
			continue
		}
		callers = append(callers, caller)
		connected++
	}

	if connected == 0 {
		return nil, errors.New("failed to connect to any RPC node")
	}

	return &Forwarder{
		urls:    urls,
		callers: callers,
		dial:    dial,
	}, nil
}

func (f *Forwarder) HandleRequest(ctx context.Context, req *Request, _ NextFunc) (json.RawMessage, error) {
	params, err := req.positionalParams()
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(params))
	for _, p := range params {
		args = append(args, p)
	}

	var result json.RawMessage
	if err := f.call(ctx, &result, req.Method, args...); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		result = json.RawMessage("null")
	}

	return result, nil
}

// Stop closes all node connections.
func (f *Forwarder) Stop(context.Context, NextFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, c := range f.callers {
		if c != nil {
			c.Close()
			f.callers[i] = nil
		}
	}

	return nil
}

// call tries the current node first and walks the list on transport errors.
func (f *Forwarder) call(ctx context.Context, result any, method string, args ...any) error {
	f.mu.RLock()
	start := f.current
	n := len(f.callers)
	f.mu.RUnlock()

	var lastErr error
	for i := range n {
		idx := (start + i) % n

		caller, err := f.caller(ctx, idx)
		if err != nil {
			lastErr = err
			continue
		}

		err = caller.CallContext(ctx, result, method, args...)
		if err == nil || isResponseError(err) {
			f.setCurrent(idx)
			return err //nolint:wrapcheck
		}

		if ctx.Err() != nil {
			return errors.Wrap(err, method)
		}

		log.Warn().
			Str("url", f.urls[idx]).
			Str("method", method).
			Err(err).
			Msg("RPC call failed, trying next node")
		lastErr = err
	}

	return errors.Wrapf(lastErr, "all RPC nodes are unavailable for %s", method)
}

// caller returns the connection for idx, redialing it if needed.
func (f *Forwarder) caller(ctx context.Context, idx int) (Caller, error) {
	f.mu.RLock()
	c := f.callers[idx]
	f.mu.RUnlock()

	if c != nil {
		return c, nil
	}

	if f.dial == nil {
		return nil, errors.New("caller is closed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callers[idx] != nil {
		return f.callers[idx], nil
	}

	c, err := f.dial(ctx, f.urls[idx])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", f.urls[idx])
	}
	f.callers[idx] = c

	return c, nil
}

func (f *Forwarder) setCurrent(idx int) {
	f.mu.Lock()
	f.current = idx
	f.mu.Unlock()
}

// isResponseError reports whether err came from a node's JSON-RPC error response.
func isResponseError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}
