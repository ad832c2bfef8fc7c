package address

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Book is an immutable, ordered set of derived addresses and their paths.
type Book struct {
	addresses []common.Address
	paths     map[common.Address]string
}

// EmptyBook is the book every store starts with.
var EmptyBook = &Book{paths: map[common.Address]string{}}

// NewBook builds a book from addresses and their paths, in order.
func NewBook(addresses []common.Address, paths []string) *Book {
	b := &Book{
		addresses: make([]common.Address, len(addresses)),
		paths:     make(map[common.Address]string, len(addresses)),
	}

	copy(b.addresses, addresses)
	for i, addr := range addresses {
		b.paths[addr] = paths[i]
	}

	return b
}

func (b *Book) Len() int {
	return len(b.addresses)
}

// Addresses returns the EIP-55 encoded addresses in derivation order.
func (b *Book) Addresses() []string {
	res := make([]string, len(b.addresses))
	for i, addr := range b.addresses {
		res[i] = addr.Hex()
	}
	return res
}

// At returns the address at index, ok is false when out of range.
func (b *Book) At(index int) (string, bool) {
	if index < 0 || index >= len(b.addresses) {
		return "", false
	}
	return b.addresses[index].Hex(), true
}

// Path looks up the derivation path of address. The lookup is case insensitive;
// malformed addresses are never found.
func (b *Book) Path(address string) (string, bool) {
	if !common.IsHexAddress(address) {
		return "", false
	}

	path, ok := b.paths[common.HexToAddress(address)]
	return path, ok
}

// Store publishes books atomically: readers see either the previous or the new
// book, never a partially filled one.
type Store struct {
	current atomic.Pointer[Book]
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(EmptyBook)
	return s
}

// Load returns the latest published book, EmptyBook before the first Publish.
func (s *Store) Load() *Book {
	return s.current.Load()
}

func (s *Store) Publish(b *Book) {
	s.current.Store(b)
}
