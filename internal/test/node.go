package test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// RPCError is an error response of FakeNode. It implements go-ethereum's rpc.Error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// FakeNode is an in-memory Ethereum node answering the handful of methods the
// provider chain uses. Its pending nonce only moves with SetNonce, so repeated
// sends rely on the caller tracking nonces.
type FakeNode struct {
	mu sync.Mutex

	ChainID  uint64
	GasPrice *big.Int
	Gas      uint64

	// TransportError, when set, is returned for every call as if the node was unreachable.
	TransportError error

	nonces     map[common.Address]uint64
	used       map[common.Address]map[uint64]bool
	sent       []*types.Transaction
	calls      []string
	filters    map[string]bool
	nextFilter int
	closed     bool
}

func NewFakeNode(chainID uint64) *FakeNode {
	return &FakeNode{
		ChainID:  chainID,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      21000,
		nonces:   make(map[common.Address]uint64),
		used:     make(map[common.Address]map[uint64]bool),
		filters:  make(map[string]bool),
	}
}

// SetNonce sets the pending nonce the node reports for addr.
func (n *FakeNode) SetNonce(addr common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[addr] = nonce
}

// Sent returns the transactions accepted by eth_sendRawTransaction.
func (n *FakeNode) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Calls returns the methods called so far in order.
func (n *FakeNode) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// CallCount returns how often method was called.
func (n *FakeNode) CallCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, c := range n.calls {
		if c == method {
			count++
		}
	}
	return count
}

// Filters returns the ids of installed filters.
func (n *FakeNode) Filters() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]string, 0, len(n.filters))
	for id := range n.filters {
		ids = append(ids, id)
	}
	return ids
}

func (n *FakeNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *FakeNode) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *FakeNode) CallContext(_ context.Context, result any, method string, args ...any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.TransportError != nil {
		return n.TransportError
	}

	n.calls = append(n.calls, method)

	res, err := n.handle(method, args)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	return errors.Wrap(json.Unmarshal(raw, result), "unmarshal result")
}

//nolint:cyclop
func (n *FakeNode) handle(method string, args []any) (any, error) {
	switch method {
	case "eth_chainId":
		return hexutil.Uint64(n.ChainID), nil
	case "net_version":
		return fmt.Sprintf("%d", n.ChainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(16), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(n.GasPrice), nil
	case "eth_estimateGas":
		return hexutil.Uint64(n.Gas), nil
	case "eth_getBalance":
		return (*hexutil.Big)(big.NewInt(0)), nil

	case "eth_getTransactionCount":
		var addr common.Address
		if err := arg(args, 0, &addr); err != nil {
			return nil, err
		}
		return hexutil.Uint64(n.nonces[addr]), nil

	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := arg(args, 0, &raw); err != nil {
			return nil, err
		}
		return n.sendRaw(raw)

	case "eth_newFilter", "eth_newBlockFilter", "eth_newPendingTransactionFilter":
		n.nextFilter++
		id := hexutil.EncodeUint64(uint64(n.nextFilter))
		n.filters[id] = true
		return id, nil

	case "eth_uninstallFilter":
		var id string
		if err := arg(args, 0, &id); err != nil {
			return nil, err
		}
		ok := n.filters[id]
		delete(n.filters, id)
		return ok, nil

	default:
		return nil, &RPCError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
	}
}

func (n *FakeNode) sendRaw(raw []byte) (any, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &RPCError{Code: -32000, Message: "rlp: " + err.Error()}
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: "invalid sender"}
	}

	if n.used[sender] == nil {
		n.used[sender] = make(map[uint64]bool)
	}
	if n.used[sender][tx.Nonce()] {
		return nil, &RPCError{Code: -32000, Message: "nonce too low"}
	}

	n.used[sender][tx.Nonce()] = true
	n.sent = append(n.sent, tx)

	return tx.Hash(), nil
}

func arg(args []any, i int, v any) error {
	if i >= len(args) {
		return &RPCError{Code: -32602, Message: "missing value for required argument"}
	}

	raw, err := json.Marshal(args[i])
	if err != nil {
		return errors.Wrap(err, "marshal argument")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RPCError{Code: -32602, Message: "invalid argument: " + err.Error()}
	}
	return nil
}
