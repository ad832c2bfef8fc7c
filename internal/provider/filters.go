package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Filters keeps track of filters installed through the provider and removes
// the ones still installed when the provider stops.
type Filters struct {
	mu        sync.Mutex
	installed map[string]struct{}
}

func NewFilters() *Filters {
	return &Filters{
		installed: make(map[string]struct{}),
	}
}

// Installed returns the ids of filters currently installed.
func (f *Filters) Installed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.installed))
	for id := range f.installed {
		ids = append(ids, id)
	}
	return ids
}

func (f *Filters) HandleRequest(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error) {
	switch req.Method {
	case "eth_newFilter", "eth_newBlockFilter", "eth_newPendingTransactionFilter":
		res, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		var id string
		if err := json.Unmarshal(res, &id); err == nil && id != "" {
			f.mu.Lock()
			f.installed[id] = struct{}{}
			f.mu.Unlock()
		}
		return res, nil

	case "eth_uninstallFilter":
		var id string
		if err := req.param(0, &id); err != nil {
			return nil, err
		}

		res, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		delete(f.installed, id)
		f.mu.Unlock()
		return res, nil

	default:
		return next(ctx, req)
	}
}

// Stop uninstalls every remaining filter.
func (f *Filters) Stop(ctx context.Context, next NextFunc) error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.installed))
	for id := range f.installed {
		ids = append(ids, id)
	}
	f.installed = make(map[string]struct{})
	f.mu.Unlock()

	for i, id := range ids {
		req, err := NewRequest(i+1, "eth_uninstallFilter", id)
		if err != nil {
			return err
		}

		if _, err := next(ctx, req); err != nil {
			log.Warn().Err(err).Str("filter_id", id).Msg("Failed to uninstall filter")
		}
	}

	return nil
}
