package address

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/util"
)

// Bootstrap derives count addresses from basePath+0 .. basePath+count-1 using an
// open device session.
//
// Requests are strictly sequential. The device is asked for indices 0..count
// inclusive; the reply for index count closes the batch and is not part of the
// book. Any failure stops the derivation and no book is returned, so a caller
// never publishes a partial book.
func Bootstrap(ctx context.Context, session device.Session, basePath string, count int) (*Book, error) {
	log := util.LogFromContext(ctx).With().Str("component", "address_bootstrap").Logger()

	addresses := make([]common.Address, 0, count)
	paths := make([]string, 0, count)

	for i := 0; i <= count; i++ {
		path := PathAt(basePath, i)

		addr, err := deriveAt(ctx, session, path)
		if err != nil {
			log.Error().Err(err).Int("index", i).Str("path", path).Msg("Failed to get address")
			return nil, errors.Wrapf(err, "failed to get address %d", i)
		}

		if i == count {
			break
		}

		addresses = append(addresses, addr)
		paths = append(paths, path)
	}

	book := NewBook(addresses, paths)
	log.Info().Strs("addresses", book.Addresses()).Msg("Got addresses")

	return book, nil
}

func deriveAt(ctx context.Context, session device.Session, path string) (common.Address, error) {
	parsed, err := ParsePath(path)
	if err != nil {
		return common.Address{}, err
	}

	raw, err := session.GetAddress(ctx, parsed)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "device refused address")
	}

	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.Errorf("device returned malformed address %q", raw)
	}

	return common.HexToAddress(raw), nil
}
