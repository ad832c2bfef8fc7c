package test

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/device"
)

// ErrFakeDevice is returned by FakeDevice for paths it was told to fail on.
var ErrFakeDevice = errors.New("fake device failure")

// Interval records when a fake session was opened and closed.
type Interval struct {
	Opened time.Time
	Closed time.Time
}

// FakeDevice is an in-memory device.Transport. Addresses are served from a
// path -> address table, every call is recorded.
type FakeDevice struct {
	mu sync.Mutex

	Handle      device.Handle
	Addresses   map[string]string
	FailPaths   map[string]bool
	EnumerError error
	Detached    bool
	CallDelay   time.Duration
	SignFunc    func(path accounts.DerivationPath, unsigned []byte) (*device.Signature, error)

	calls     []string
	intervals []Interval
	open      int
	maxOpen   int
}

// NewFakeDevice returns an attached fake device serving addresses.
func NewFakeDevice(addresses map[string]string) *FakeDevice {
	return &FakeDevice{
		Handle:    "fake://0001",
		Addresses: addresses,
		FailPaths: make(map[string]bool),
	}
}

func (d *FakeDevice) Devices() ([]device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.EnumerError != nil {
		return nil, d.EnumerError
	}
	if d.Detached {
		return nil, nil
	}
	return []device.Handle{d.Handle}, nil
}

// SetDetached simulates unplugging (true) or plugging in (false) the device.
func (d *FakeDevice) SetDetached(detached bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Detached = detached
}

func (d *FakeDevice) Open(_ context.Context, handle device.Handle) (device.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if handle != d.Handle {
		return nil, errors.Errorf("unknown device %s", handle)
	}

	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	d.intervals = append(d.intervals, Interval{Opened: time.Now()})

	return &fakeSession{device: d, idx: len(d.intervals) - 1}, nil
}

// Calls returns the recorded device calls, e.g. "getAddress m/44'/60'/0'/0/0".
func (d *FakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Intervals returns the open/close times of every session so far.
func (d *FakeDevice) Intervals() []Interval {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Interval(nil), d.intervals...)
}

// MaxConcurrentSessions is the highest number of sessions ever open at once.
func (d *FakeDevice) MaxConcurrentSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

func (d *FakeDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	delay := d.CallDelay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
}

type fakeSession struct {
	device *FakeDevice
	idx    int
	closed bool
}

func (s *fakeSession) GetAddress(_ context.Context, path accounts.DerivationPath) (string, error) {
	s.device.record("getAddress " + path.String())

	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	if s.device.FailPaths[path.String()] {
		return "", ErrFakeDevice
	}

	addr, ok := s.device.Addresses[path.String()]
	if !ok {
		return "", errors.Errorf("no address for %s", path)
	}
	return addr, nil
}

func (s *fakeSession) SignTransaction(_ context.Context, path accounts.DerivationPath, unsigned []byte) (*device.Signature, error) {
	s.device.record("signTransaction " + path.String())

	if s.device.SignFunc == nil {
		return nil, errors.New("fake device cannot sign")
	}
	return s.device.SignFunc(path, unsigned)
}

func (s *fakeSession) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.device.open--
	s.device.intervals[s.idx].Closed = time.Now()
	return nil
}
