package test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github/chapool/ledger-provider/internal/api"
	"github/chapool/ledger-provider/internal/api/router"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/metrics"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/wallet/emulator"
)

// TestMnemonic is the standard BIP39 test vector, its first account is
// 0x9858EfFD232B4033E47d90003D41EC34EcaEda94.
//
//nolint:dupword
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// TestChainID is the chain id reported by the fake node of test servers.
const TestChainID = 1337

// DefaultTestConfig returns a provider config suitable for tests.
func DefaultTestConfig() config.Provider {
	return config.Provider{
		NumAddresses: 2,
		HDPath:       config.DefaultHDPath,
		PollInterval: 10 * time.Millisecond,
		Management: config.Management{
			ListenAddress: "127.0.0.1:0",
		},
	}
}

// WithTestServer runs closure against a management server backed by an
// emulated device whose address book is already published.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	dev, err := emulator.New(TestMnemonic, "")
	require.NoError(t, err)

	WithTestServerTransport(t, dev, true, closure)
}

// WithTestServerTransport is WithTestServer with a custom device transport.
// With awaitReady the closure only runs after the provider finished bootstrap.
func WithTestServerTransport(t *testing.T, transport device.Transport, awaitReady bool, closure func(s *api.Server)) {
	t.Helper()

	m, err := metrics.New()
	require.NoError(t, err)

	cfg := DefaultTestConfig()
	p, err := provider.New(t.Context(), cfg, provider.Options{
		Transport: transport,
		Caller:    NewFakeNode(TestChainID),
		Observer:  m,
	})
	require.NoError(t, err)

	if awaitReady {
		select {
		case <-p.Ready():
		case <-time.After(5 * time.Second):
			t.Fatal("provider bootstrap did not finish")
		}
	}

	s := api.NewServer(cfg, p, m)
	router.Init(s)

	closure(s)

	p.Stop(context.Background())
	s.Shutdown(context.Background())
}

// PerformRequest runs a request against the echo instance of s without a listener.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body io.Reader, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header[k] = v
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}
