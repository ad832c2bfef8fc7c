package provider

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// NonceTracker answers pending nonce queries from a local cache that is advanced
// by every transaction sent through it. Providers sharing a tracker hand out
// consecutive nonces for the same account.
type NonceTracker struct {
	mu      sync.Mutex
	pending map[common.Address]uint64

	// send serializes nonce lookup, signing and sending
	send sync.Mutex
}

var sharedNonceTracker = NewNonceTracker()

// SharedNonceTracker returns the process wide tracker.
func SharedNonceTracker() *NonceTracker {
	return sharedNonceTracker
}

// NewNonceTracker creates a tracker with an empty cache.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{
		pending: make(map[common.Address]uint64),
	}
}

// Lock blocks other holders until the returned unlock is called. The hooked
// wallet holds it from nonce lookup until the transaction is sent.
func (t *NonceTracker) Lock() (unlock func()) {
	t.send.Lock()
	return t.send.Unlock
}

// Pending returns the cached pending nonce of addr.
func (t *NonceTracker) Pending(addr common.Address) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.pending[addr]
	return n, ok
}

// Reset drops the cached nonce of addr so the next lookup asks the node.
func (t *NonceTracker) Reset(addr common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, addr)
}

func (t *NonceTracker) HandleRequest(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error) {
	switch req.Method {
	case "eth_getTransactionCount":
		return t.transactionCount(ctx, req, next)
	case "eth_sendRawTransaction":
		return t.sendRawTransaction(ctx, req, next)
	default:
		return next(ctx, req)
	}
}

func (t *NonceTracker) transactionCount(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error) {
	var (
		addr  common.Address
		block string
	)
	if err := req.param(0, &addr); err != nil {
		return nil, err
	}
	if err := req.param(1, &block); err != nil || !strings.EqualFold(block, "pending") {
		return next(ctx, req)
	}

	if n, ok := t.Pending(addr); ok {
		return marshalResult(hexutil.Uint64(n))
	}

	raw, err := next(ctx, req)
	if err != nil {
		return nil, err
	}

	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return raw, nil //nolint:nilerr // unexpected shape, pass through uncached
	}

	t.mu.Lock()
	// a send may have advanced the nonce while we were asking
	if cur, ok := t.pending[addr]; !ok || cur < uint64(n) {
		t.pending[addr] = uint64(n)
	}
	cached := t.pending[addr]
	t.mu.Unlock()

	return marshalResult(hexutil.Uint64(cached))
}

func (t *NonceTracker) sendRawTransaction(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error) {
	var raw hexutil.Bytes
	if err := req.param(0, &raw); err != nil {
		return nil, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		log.Debug().Err(err).Msg("Could not decode raw transaction, nonce not tracked")
		return next(ctx, req)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		log.Debug().Err(err).Msg("Could not recover sender, nonce not tracked")
		return next(ctx, req)
	}

	res, err := next(ctx, req)
	if err != nil {
		t.Reset(sender)
		return nil, err
	}

	t.mu.Lock()
	if cur, ok := t.pending[sender]; !ok || cur <= tx.Nonce() {
		t.pending[sender] = tx.Nonce() + 1
	}
	t.mu.Unlock()

	log.Debug().Str("from", sender.Hex()).Uint64("nonce", tx.Nonce()).Msg("Nonce advanced")

	return res, nil
}
