package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NextFunc hands a request to the rest of the chain.
type NextFunc func(ctx context.Context, req *Request) (json.RawMessage, error)

// Subprovider is one link of the engine's chain. It either answers req itself
// or defers to next.
type Subprovider interface {
	HandleRequest(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error)
}

// Starter is implemented by subproviders that need to run something on Start.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by subproviders holding resources. next reaches the
// subproviders behind the stopping one even though the engine no longer
// accepts requests.
type Stopper interface {
	Stop(ctx context.Context, next NextFunc) error
}

// Engine runs requests through an ordered list of subproviders.
type Engine struct {
	providers []Subprovider
	running   atomic.Bool
	lifecycle sync.Mutex
	ids       atomic.Int64
}

// NewEngine creates a stopped engine dispatching to providers in order.
func NewEngine(providers ...Subprovider) *Engine {
	return &Engine{
		providers: providers,
	}
}

// Start starts every subprovider. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.running.Load() {
		return nil
	}

	for _, p := range e.providers {
		if s, ok := p.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				return errors.Wrap(err, "failed to start subprovider")
			}
		}
	}

	e.running.Store(true)
	log.Debug().Int("subproviders", len(e.providers)).Msg("Provider engine started")

	return nil
}

// Stop rejects further requests and stops subproviders in chain order.
func (e *Engine) Stop(ctx context.Context) []error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.running.Swap(false) {
		return nil
	}

	var errs []error
	for i, p := range e.providers {
		s, ok := p.(Stopper)
		if !ok {
			continue
		}

		if err := s.Stop(ctx, e.nextAfter(i)); err != nil {
			log.Error().Err(err).Msg("Failed to stop subprovider")
			errs = append(errs, err)
		}
	}

	log.Debug().Msg("Provider engine stopped")

	return errs
}

// Running reports whether the engine accepts requests.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Handle runs req through the chain.
func (e *Engine) Handle(ctx context.Context, req *Request) (json.RawMessage, error) {
	if !e.running.Load() {
		return nil, ErrEngineStopped
	}

	return e.dispatch(ctx, 0, req)
}

// Call issues method through the whole chain and decodes the result into result.
// Subproviders use it to ask the chain for missing values.
func (e *Engine) Call(ctx context.Context, result any, method string, params ...any) error {
	req, err := NewRequest(int(e.ids.Add(1)), method, params...)
	if err != nil {
		return err
	}

	raw, err := e.Handle(ctx, req)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return errors.Wrapf(err, "failed to decode %s result", method)
	}

	return nil
}

func (e *Engine) nextAfter(i int) NextFunc {
	return func(ctx context.Context, req *Request) (json.RawMessage, error) {
		return e.dispatch(ctx, i+1, req)
	}
}

func (e *Engine) dispatch(ctx context.Context, i int, req *Request) (json.RawMessage, error) {
	if i >= len(e.providers) {
		return nil, errors.Wrap(ErrMethodNotHandled, req.Method)
	}

	return e.providers[i].HandleRequest(ctx, req, e.nextAfter(i))
}
