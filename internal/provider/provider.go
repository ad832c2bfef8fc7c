// Package provider wires the device queue, the address book and the signing
// service into an Ethereum JSON-RPC provider. Account and signing requests are
// served from the hardware signer, everything else is forwarded to a node.
package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/wallet/address"
	"github/chapool/ledger-provider/internal/wallet/signer"
)

// BookObserver is notified when an address book gets published.
type BookObserver interface {
	AddressBookPublished(count int)
}

// Options carry the collaborators of a provider. Only Transport is required.
type Options struct {
	// Transport finds and opens the signing device.
	Transport device.Transport

	// Caller replaces the RPC URLs of the config as network target.
	Caller Caller

	// Queue is shared with other providers talking to the same device. A new
	// queue is created when nil.
	Queue *device.Queue

	// Observer receives queue events. If it also implements BookObserver it is
	// told about published address books.
	Observer device.Observer
}

// LedgerProvider is an Ethereum JSON-RPC provider backed by a hardware signer.
type LedgerProvider struct {
	cfg       config.Provider
	transport device.Transport
	queue     *device.Queue
	monitor   *device.Monitor
	book      *address.Store
	signer    signer.Service
	nonce     *NonceTracker
	filters   *Filters
	engine    *Engine
	observer  device.Observer

	handle    atomic.Pointer[device.Handle]
	ready     chan struct{}
	readyOnce sync.Once
	logger    zerolog.Logger

	// mu guards the background discovery started by New and Start.
	mu        sync.Mutex
	cancel    context.CancelFunc
	discovery chan struct{}
}

// New builds the provider chain and starts it with an empty address book. Device
// discovery and address derivation continue in the background, see Ready.
func New(ctx context.Context, cfg config.Provider, opts Options) (*LedgerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid provider config")
	}
	if opts.Transport == nil {
		return nil, errors.New("device transport is required")
	}

	var forwarder *Forwarder
	switch {
	case opts.Caller != nil:
		forwarder = NewCallerForwarder(opts.Caller)
	case len(cfg.RPCURLs) > 0:
		f, err := NewForwarder(ctx, cfg.RPCURLs)
		if err != nil {
			return nil, err
		}
		forwarder = f
	default:
		return nil, errors.New("either an RPC URL or a caller is required")
	}

	queue := opts.Queue
	if queue == nil {
		queue = device.NewQueue(opts.Observer)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}

	nonce := NewNonceTracker()
	if cfg.ShareNonce {
		nonce = SharedNonceTracker()
	}

	p := &LedgerProvider{
		cfg:       cfg,
		transport: opts.Transport,
		queue:     queue,
		monitor:   device.NewMonitor(opts.Transport, pollInterval, queue.Busy),
		book:      address.NewStore(),
		nonce:     nonce,
		filters:   NewFilters(),
		engine:    NewEngine(),
		observer:  opts.Observer,
		ready:     make(chan struct{}),
		logger:    log.With().Str("component", "ledger_provider").Logger(),
	}

	p.signer = signer.NewService(p.book, p.queue, p.transport, p.DeviceHandle, cfg.Verify)
	p.engine.providers = []Subprovider{
		NewHookedWallet(p.signer, p.engine, p.nonce),
		p.nonce,
		p.filters,
		forwarder,
	}

	if err := p.engine.Start(ctx); err != nil {
		return nil, err
	}

	p.startDiscovery(ctx)

	return p, nil
}

// Start resumes serving requests after Stop. Device discovery resumes too: a
// provider stopped before its bootstrap finished bootstraps on the next attach.
func (p *LedgerProvider) Start(ctx context.Context) error {
	if err := p.engine.Start(ctx); err != nil {
		return err
	}

	p.startDiscovery(ctx)
	return nil
}

// Stop rejects further requests, uninstalls remaining filters and closes the
// network connections. Pending device discovery and attach tracking pause
// until the next Start.
func (p *LedgerProvider) Stop(ctx context.Context) []error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	return p.engine.Stop(ctx)
}

// Send runs req through the chain.
func (p *LedgerProvider) Send(ctx context.Context, req *Request) *Response {
	res := &Response{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
	}

	result, err := p.engine.Handle(ctx, req)
	if err != nil {
		p.logger.Debug().Err(err).Str("method", req.Method).Msg("Request failed")
		res.Error = toRPCError(err)
		return res
	}

	res.Result = result
	return res
}

// SendAsync runs req in the background and hands the response to callback.
func (p *LedgerProvider) SendAsync(ctx context.Context, req *Request, callback func(*Response)) {
	go func() {
		callback(p.Send(ctx, req))
	}()
}

// Call is a convenience wrapper around Send decoding the result into result.
func (p *LedgerProvider) Call(ctx context.Context, result any, method string, params ...any) error {
	req, err := NewRequest(1, method, params...)
	if err != nil {
		return err
	}

	res := p.Send(ctx, req)
	if res.Error != nil {
		return res.Error
	}

	if result == nil {
		return nil
	}

	return errors.Wrapf(json.Unmarshal(res.Result, result), "failed to decode %s result", method)
}

// GetAddress returns the address at index (0 when omitted) of the published
// book. ok is false before bootstrap or when index is out of range.
func (p *LedgerProvider) GetAddress(index ...int) (string, bool) {
	i := 0
	if len(index) > 0 {
		i = index[0]
	}
	return p.book.Load().At(i)
}

// GetAddresses returns the published addresses in derivation order.
func (p *LedgerProvider) GetAddresses() []string {
	return p.book.Load().Addresses()
}

// DeviceHandle returns the handle of the attached device.
func (p *LedgerProvider) DeviceHandle() (device.Handle, bool) {
	h := p.handle.Load()
	if h == nil {
		return "", false
	}
	return *h, true
}

// Ready is closed once background bootstrap finished, whether it published a
// book or not. It stays open while the provider is stopped before that.
func (p *LedgerProvider) Ready() <-chan struct{} {
	return p.ready
}

// Running reports whether the provider accepts requests.
func (p *LedgerProvider) Running() bool {
	return p.engine.Running()
}

// startDiscovery runs bootstrap, or only the attach watcher once bootstrap
// already ended, in the background until Stop. The previous run is awaited
// first so two runs never overlap.
func (p *LedgerProvider) startDiscovery(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	discoveryCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	prev := p.discovery
	done := make(chan struct{})
	p.discovery = done

	go func() {
		defer close(done)

		if prev != nil {
			<-prev
		}

		select {
		case <-p.ready:
			current, _ := p.DeviceHandle()
			p.watch(discoveryCtx, current)
		default:
			p.bootstrap(discoveryCtx)
		}
	}()
}

// bootstrap waits for a device, derives the address book on the queue and
// publishes it. Failures are logged and leave the book empty. Cancellation
// while waiting for the device leaves Ready open.
func (p *LedgerProvider) bootstrap(ctx context.Context) {
	handle, err := p.monitor.AwaitDevice(ctx)
	if err != nil {
		if errors.Is(err, device.ErrDeviceDiscovery) {
			p.logger.Error().Err(err).Msg("Device discovery failed")
			p.markReady()
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	defer p.markReady()

	p.handle.Store(&handle)

	book, err := device.WithDevice(ctx, p.queue, p.transport, handle, func(ctx context.Context, session device.Session) (*address.Book, error) {
		return address.Bootstrap(ctx, session, p.cfg.HDPath, p.cfg.NumAddresses)
	})
	if err != nil {
		return
	}

	p.book.Publish(book)
	if o, ok := p.observer.(BookObserver); ok {
		o.AddressBookPublished(book.Len())
	}

	p.logger.Info().Int("addresses", book.Len()).Msg("Address book published")
	p.markReady()

	p.watch(ctx, handle)
}

func (p *LedgerProvider) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// watch keeps the device handle current while the device is unplugged and
// plugged in again.
func (p *LedgerProvider) watch(ctx context.Context, current device.Handle) {
	events := make(chan device.Event, 1)
	sub := p.monitor.Subscribe(events)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case device.Attached:
				if _, ok := p.DeviceHandle(); ok && ev.Handle == current {
					continue
				}
				current = ev.Handle
				p.handle.Store(&current)
				p.logger.Info().Str("device", string(ev.Handle)).Msg("Device reattached")
			case device.Detached:
				if ev.Handle == current {
					p.handle.Store(nil)
					p.logger.Warn().Str("device", string(ev.Handle)).Msg("Device detached")
				}
			}
		case err := <-sub.Err():
			if err != nil {
				p.logger.Error().Err(err).Msg("Device monitor stopped")
			}
			return
		case <-ctx.Done():
			return
		}
	}
}
