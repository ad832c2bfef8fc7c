package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/util"
	"github/chapool/ledger-provider/internal/wallet/signer"
)

// HookedWallet answers account and signing requests from the signing service.
// Everything else is passed down the chain.
type HookedWallet struct {
	signer signer.Service
	engine *Engine
	nonce  *NonceTracker
}

// NewHookedWallet creates the wallet subprovider. engine is used to look up
// values missing from transactions, nonce to serialize sends.
func NewHookedWallet(svc signer.Service, engine *Engine, nonce *NonceTracker) *HookedWallet {
	return &HookedWallet{
		signer: svc,
		engine: engine,
		nonce:  nonce,
	}
}

func (w *HookedWallet) HandleRequest(ctx context.Context, req *Request, next NextFunc) (json.RawMessage, error) {
	switch req.Method {
	case "eth_accounts", "eth_requestAccounts":
		return marshalResult(w.signer.Accounts())

	case "eth_coinbase":
		accounts := w.signer.Accounts()
		if len(accounts) == 0 {
			return marshalResult(nil)
		}
		return marshalResult(accounts[0])

	case "eth_signTransaction":
		params, err := txParams(req)
		if err != nil {
			return nil, err
		}

		raw, err := w.signTransaction(ctx, params)
		if err != nil {
			return nil, err
		}
		return marshalResult(raw)

	case "eth_sendTransaction":
		params, err := txParams(req)
		if err != nil {
			return nil, err
		}

		hash, err := w.sendTransaction(ctx, params)
		if err != nil {
			return nil, err
		}
		return marshalResult(hash)

	case "eth_sign", "personal_sign", "eth_signTypedData", "eth_signTypedData_v3", "eth_signTypedData_v4":
		_, err := w.signer.SignMessage(ctx, &signer.MessageParams{})
		return nil, err

	default:
		return next(ctx, req)
	}
}

func (w *HookedWallet) signTransaction(ctx context.Context, params *signer.TxParams) (string, error) {
	if err := w.fill(ctx, params); err != nil {
		return "", err
	}

	return w.signer.SignTransaction(ctx, params) //nolint:wrapcheck
}

func (w *HookedWallet) sendTransaction(ctx context.Context, params *signer.TxParams) (common.Hash, error) {
	log := util.LogFromContext(ctx).With().Str("component", "hooked_wallet").Str("from", params.From).Logger()

	unlock := w.nonce.Lock()
	defer unlock()

	raw, err := w.signTransaction(ctx, params)
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := w.engine.Call(ctx, &hash, "eth_sendRawTransaction", raw); err != nil {
		return common.Hash{}, err
	}

	log.Info().Str("tx_hash", hash.Hex()).Msg("Transaction sent")

	return hash, nil
}

// fill asks the chain for nonce, chain id, gas price and gas limit when params lack them.
func (w *HookedWallet) fill(ctx context.Context, params *signer.TxParams) error {
	// unknown senders must fail before any network round trip
	if !w.knows(params.From) {
		return errors.Wrapf(signer.ErrAccountNotFound, "%s", params.From)
	}

	if params.Nonce == nil {
		var nonce hexutil.Uint64
		if err := w.engine.Call(ctx, &nonce, "eth_getTransactionCount", params.From, "pending"); err != nil {
			return errors.Wrap(err, "failed to get nonce")
		}
		params.Nonce = &nonce
	}

	if params.ChainID == nil {
		var chainID hexutil.Big
		if err := w.engine.Call(ctx, &chainID, "eth_chainId"); err != nil {
			return errors.Wrap(err, "failed to get chain id")
		}
		params.ChainID = &chainID
	}

	if params.GasPrice == nil && !params.IsDynamicFee() {
		var price hexutil.Big
		if err := w.engine.Call(ctx, &price, "eth_gasPrice"); err != nil {
			return errors.Wrap(err, "failed to get gas price")
		}
		params.GasPrice = &price
	}

	if params.Gas == nil {
		call := map[string]any{"from": params.From}
		if params.To != nil {
			call["to"] = params.To
		}
		if params.Value != nil {
			call["value"] = params.Value
		}
		if params.Input != nil {
			call["input"] = params.Input
		} else if params.Data != nil {
			call["data"] = params.Data
		}

		var gas hexutil.Uint64
		if err := w.engine.Call(ctx, &gas, "eth_estimateGas", call); err != nil {
			return errors.Wrap(err, "failed to estimate gas")
		}
		params.Gas = &gas
	}

	return nil
}

func (w *HookedWallet) knows(addr string) bool {
	for _, a := range w.signer.Accounts() {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

func txParams(req *Request) (*signer.TxParams, error) {
	var params signer.TxParams
	if err := req.param(0, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
