package provider

import (
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/wallet/signer"
)

var (
	// ErrEngineStopped is returned for requests sent to a stopped provider.
	ErrEngineStopped = errors.New("provider engine is stopped")

	// ErrMethodNotHandled is returned when no subprovider answered a request.
	ErrMethodNotHandled = errors.New("method not handled")

	// ErrInvalidParams is returned for malformed request parameters.
	ErrInvalidParams = errors.New("invalid params")
)

// JSON-RPC error codes used in responses.
const (
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeServerError       = -32000
	CodeUnsupportedMethod = 4200
	CodeResourceNotReady  = -32002
)

// toRPCError maps err onto a JSON-RPC error object. Errors returned by the
// upstream node keep their code and data.
func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	switch {
	case errors.Is(err, signer.ErrAccountNotFound):
		return &Error{Code: CodeServerError, Message: err.Error()}
	case errors.Is(err, signer.ErrUnsupportedOperation):
		return &Error{Code: CodeUnsupportedMethod, Message: err.Error()}
	case errors.Is(err, ErrMethodNotHandled):
		return &Error{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidParams):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, ErrEngineStopped):
		return &Error{Code: CodeResourceNotReady, Message: err.Error()}
	case errors.Is(err, device.ErrDeviceJob):
		return &Error{Code: CodeServerError, Message: err.Error()}
	}

	var upstream rpc.Error
	if errors.As(err, &upstream) {
		e := &Error{Code: upstream.ErrorCode(), Message: upstream.Error()}

		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			e.Data = dataErr.ErrorData()
		}
		return e
	}

	return &Error{Code: CodeInternalError, Message: err.Error()}
}
