// Package device talks to a single attached hardware signer.
//
// Everything that touches the physical device goes through a Queue: the device
// handles one logical operation at a time, so every job gets a freshly opened
// Session and jobs run strictly in submission order.
package device

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts"
)

// Handle identifies an attached device, e.g. a HID path or a wallet URL.
type Handle string

// Signature holds the raw signature components as returned by the device.
type Signature struct {
	V []byte
	R []byte
	S []byte
}

// Session is an open channel to the device, valid for the duration of one job.
type Session interface {
	// GetAddress returns the raw hex address of the key at path.
	GetAddress(ctx context.Context, path accounts.DerivationPath) (string, error)

	// SignTransaction signs the unsigned transaction payload with the key at path.
	SignTransaction(ctx context.Context, path accounts.DerivationPath, unsigned []byte) (*Signature, error)

	Close() error
}

// KeyExporter is implemented by sessions able to hand out private key material.
// Hardware sessions never implement it.
type KeyExporter interface {
	PrivateKey(ctx context.Context, path accounts.DerivationPath) ([]byte, error)
}

// Opener opens sessions against a device handle.
type Opener interface {
	Open(ctx context.Context, handle Handle) (Session, error)
}

// Enumerator lists the handles of currently attached devices.
type Enumerator interface {
	Devices() ([]Handle, error)
}

// Transport bundles discovery and session opening for one kind of device.
type Transport interface {
	Enumerator
	Opener
}
