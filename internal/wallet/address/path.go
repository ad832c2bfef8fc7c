package address

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"
)

// PathAt returns the derivation path string for index under basePath,
// e.g. "44'/60'/0'/0/" + 3.
func PathAt(basePath string, index int) string {
	return fmt.Sprintf("%s%d", basePath, index)
}

// ParsePath parses a BIP44 path with or without the leading "m/".
// go-ethereum treats paths without "m/" as relative to its default root, which
// is never what a configured base path means here.
func ParsePath(path string) (accounts.DerivationPath, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "m/") {
		path = "m/" + path
	}

	parsed, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid derivation path %q", path)
	}

	return parsed, nil
}
