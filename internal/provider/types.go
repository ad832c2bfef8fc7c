package provider

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a JSON-RPC response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ErrorCode implements go-ethereum's rpc.Error.
func (e *Error) ErrorCode() int {
	return e.Code
}

// NewRequest builds a request for method, params are marshalled as a positional array.
func NewRequest(id int, method string, params ...any) (*Request, error) {
	req := &Request{
		JSONRPC: jsonrpcVersion,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}

	if params == nil {
		params = []any{}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal params of %s", method)
	}
	req.Params = raw

	return req, nil
}

// positionalParams splits the params array into its elements. An absent params
// member is an empty list.
func (r *Request) positionalParams() ([]json.RawMessage, error) {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil, nil
	}

	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, errors.Wrapf(ErrInvalidParams, "%s: params must be an array", r.Method)
	}

	return params, nil
}

// param decodes the i-th positional parameter into v.
func (r *Request) param(i int, v any) error {
	params, err := r.positionalParams()
	if err != nil {
		return err
	}
	if i >= len(params) {
		return errors.Wrapf(ErrInvalidParams, "%s: missing parameter %d", r.Method, i)
	}

	if err := json.Unmarshal(params[i], v); err != nil {
		return errors.Wrapf(ErrInvalidParams, "%s: parameter %d: %v", r.Method, i, err)
	}

	return nil
}

func marshalResult(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return raw, nil
}
