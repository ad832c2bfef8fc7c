package emulator

import (
	"crypto/sha512"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// seedHolder keeps the BIP39 seed in memory with thread-safe access.
type seedHolder struct {
	seed []byte
	mu   sync.RWMutex
}

// newSeedHolder converts mnemonic and passphrase to a seed (BIP39).
func newSeedHolder(mnemonic string, passphrase string) *seedHolder {
	// seed = PBKDF2(mnemonic, "mnemonic" + passphrase, 2048, 64, SHA512)
	const (
		pbkdf2Iterations = 2048
		pbkdf2KeyLength  = 64
	)

	normalized := strings.Join(strings.Fields(mnemonic), " ")

	return &seedHolder{
		seed: pbkdf2.Key(
			[]byte(normalized),
			[]byte("mnemonic"+passphrase),
			pbkdf2Iterations,
			pbkdf2KeyLength,
			sha512.New,
		),
	}
}

// get returns a copy of the seed, nil once cleared.
func (h *seedHolder) get() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.seed == nil {
		return nil
	}

	seedCopy := make([]byte, len(h.seed))
	copy(seedCopy, h.seed)
	return seedCopy
}

func (h *seedHolder) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.seed {
		h.seed[i] = 0
	}
	h.seed = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
