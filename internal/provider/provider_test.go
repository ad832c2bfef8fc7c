package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/test"
	"github/chapool/ledger-provider/internal/wallet/emulator"
)

//nolint:dupword // standard BIP39 test vector
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const chainID = 1337

var (
	account0  = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	account1  = common.HexToAddress("0x6Fac4D18c912343BF86fa7049364Dd4E424Ab9C0")
	recipient = common.HexToAddress("0x9F1233798E905E173560071255140b4A8aBd3Ec6")
)

func testConfig() config.Provider {
	return config.Provider{
		NumAddresses: 2,
		ShareNonce:   false,
		HDPath:       config.DefaultHDPath,
		PollInterval: 10 * time.Millisecond,
	}
}

func newEmulator(t *testing.T) *emulator.Device {
	t.Helper()

	dev, err := emulator.New(testMnemonic, "")
	require.NoError(t, err)
	return dev
}

func newProvider(t *testing.T, cfg config.Provider, transport device.Transport, node *test.FakeNode) *provider.LedgerProvider {
	t.Helper()

	p, err := provider.New(t.Context(), cfg, provider.Options{Transport: transport, Caller: node})
	require.NoError(t, err)

	t.Cleanup(func() {
		p.Stop(context.Background())
	})

	return p
}

func waitReady(t *testing.T, p *provider.LedgerProvider) {
	t.Helper()

	select {
	case <-p.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("provider bootstrap did not finish")
	}
}

func sendTx(ctx context.Context, p *provider.LedgerProvider, from common.Address) (common.Hash, error) {
	var hash common.Hash
	err := p.Call(ctx, &hash, "eth_sendTransaction", map[string]any{
		"from":  from.Hex(),
		"to":    recipient.Hex(),
		"value": "0x1",
	})
	return hash, err
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()

	var rpcErr *provider.Error
	require.True(t, errors.As(err, &rpcErr), "expected a JSON-RPC error, got %v", err)
	return rpcErr.Code
}

func TestBootstrapPublishesBook(t *testing.T) {
	p := newProvider(t, testConfig(), newEmulator(t), test.NewFakeNode(chainID))
	waitReady(t, p)

	assert.Equal(t, []string{account0.Hex(), account1.Hex()}, p.GetAddresses())

	addr, ok := p.GetAddress()
	require.True(t, ok)
	assert.Equal(t, account0.Hex(), addr)

	addr, ok = p.GetAddress(1)
	require.True(t, ok)
	assert.Equal(t, account1.Hex(), addr)

	_, ok = p.GetAddress(2)
	assert.False(t, ok)

	handle, ok := p.DeviceHandle()
	require.True(t, ok)
	assert.Equal(t, emulator.Handle, handle)
}

func TestBootstrapDerivesOneExtraIndex(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{
		"m/44'/60'/0'/0/0": "0x9858effd232b4033e47d90003d41ec34ecaeda94",
		"m/44'/60'/0'/0/1": "0x6fac4d18c912343bf86fa7049364dd4e424ab9c0",
		"m/44'/60'/0'/0/2": "0xb6716976a3ebe8d39aceb04372f22ff8e6802d7a",
	})

	p := newProvider(t, testConfig(), dev, test.NewFakeNode(chainID))
	waitReady(t, p)

	assert.Equal(t, []string{
		"getAddress m/44'/60'/0'/0/0",
		"getAddress m/44'/60'/0'/0/1",
		"getAddress m/44'/60'/0'/0/2",
	}, dev.Calls())
	assert.Equal(t, []string{account0.Hex(), account1.Hex()}, p.GetAddresses())
}

func TestBootstrapFailureLeavesBookEmpty(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{
		"m/44'/60'/0'/0/0": "0x9858effd232b4033e47d90003d41ec34ecaeda94",
		"m/44'/60'/0'/0/1": "0x6fac4d18c912343bf86fa7049364dd4e424ab9c0",
		"m/44'/60'/0'/0/2": "0xb6716976a3ebe8d39aceb04372f22ff8e6802d7a",
	})
	dev.FailPaths["m/44'/60'/0'/0/1"] = true

	p := newProvider(t, testConfig(), dev, test.NewFakeNode(chainID))
	waitReady(t, p)

	assert.Empty(t, p.GetAddresses())
	_, ok := p.GetAddress()
	assert.False(t, ok)
	assert.True(t, p.Running(), "a failed bootstrap does not stop the provider")
}

func TestDiscoveryErrorLeavesBookEmpty(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	dev.EnumerError = errors.New("usb stack unavailable")

	p := newProvider(t, testConfig(), dev, test.NewFakeNode(chainID))
	waitReady(t, p)

	assert.Empty(t, p.GetAddresses())
	_, ok := p.DeviceHandle()
	assert.False(t, ok)
}

func TestNoDeviceServesEmptyAccounts(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	dev.SetDetached(true)

	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), dev, node)

	var accounts []string
	require.NoError(t, p.Call(t.Context(), &accounts, "eth_accounts"))
	assert.Empty(t, accounts)

	var coinbase *string
	require.NoError(t, p.Call(t.Context(), &coinbase, "eth_coinbase"))
	assert.Nil(t, coinbase)

	select {
	case <-p.Ready():
		t.Fatal("bootstrap must not finish without a device")
	case <-time.After(50 * time.Millisecond):
	}

	p.Stop(t.Context())
	dev.SetDetached(false)

	select {
	case <-p.Ready():
		t.Fatal("a stopped provider must not bootstrap")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, p.GetAddresses())
}

func TestStartResumesDiscovery(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{
		"m/44'/60'/0'/0/0": "0x9858effd232b4033e47d90003d41ec34ecaeda94",
		"m/44'/60'/0'/0/1": "0x6fac4d18c912343bf86fa7049364dd4e424ab9c0",
		"m/44'/60'/0'/0/2": "0xb6716976a3ebe8d39aceb04372f22ff8e6802d7a",
	})
	dev.SetDetached(true)

	p := newProvider(t, testConfig(), dev, test.NewFakeNode(chainID))
	p.Stop(t.Context())

	require.NoError(t, p.Start(t.Context()))
	assert.True(t, p.Running())

	dev.SetDetached(false)
	waitReady(t, p)

	assert.Equal(t, []string{account0.Hex(), account1.Hex()}, p.GetAddresses())
	handle, ok := p.DeviceHandle()
	require.True(t, ok)
	assert.Equal(t, dev.Handle, handle)
}

func TestAccounts(t *testing.T) {
	p := newProvider(t, testConfig(), newEmulator(t), test.NewFakeNode(chainID))
	waitReady(t, p)

	var accounts []string
	require.NoError(t, p.Call(t.Context(), &accounts, "eth_accounts"))
	assert.Equal(t, []string{account0.Hex(), account1.Hex()}, accounts)

	var coinbase string
	require.NoError(t, p.Call(t.Context(), &coinbase, "eth_coinbase"))
	assert.Equal(t, account0.Hex(), coinbase)
}

func TestSendTransaction(t *testing.T) {
	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), newEmulator(t), node)
	waitReady(t, p)

	hash, err := sendTx(t.Context(), p, account0)
	require.NoError(t, err)

	sent := node.Sent()
	require.Len(t, sent, 1)

	tx := sent[0]
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, uint64(0), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, int64(chainID), tx.ChainId().Int64())
	assert.Zero(t, node.GasPrice.Cmp(tx.GasPrice()))
	assert.Equal(t, &recipient, tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, account0, from)

	// the node keeps reporting nonce 0, the tracker hands out the next one
	_, err = sendTx(t.Context(), p, account0)
	require.NoError(t, err)

	sent = node.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(1), sent[1].Nonce())
	assert.Equal(t, 1, node.CallCount("eth_getTransactionCount"))
}

func TestSignTransactionDoesNotSend(t *testing.T) {
	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), newEmulator(t), node)
	waitReady(t, p)

	var raw string
	err := p.Call(t.Context(), &raw, "eth_signTransaction", map[string]any{
		"from":  account1.Hex(),
		"to":    recipient.Hex(),
		"nonce": "0x7",
		"gas":   "0x5208",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Empty(t, node.Sent())
	assert.Zero(t, node.CallCount("eth_getTransactionCount"))
}

func TestSendTransactionUnknownAccount(t *testing.T) {
	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), newEmulator(t), node)
	waitReady(t, p)

	_, err := sendTx(t.Context(), p, recipient)
	require.Error(t, err)
	assert.Equal(t, provider.CodeServerError, rpcCode(t, err))
	assert.Empty(t, node.Calls(), "no network round trip for unknown accounts")
}

func TestMessageSigningUnsupported(t *testing.T) {
	p := newProvider(t, testConfig(), newEmulator(t), test.NewFakeNode(chainID))
	waitReady(t, p)

	for _, method := range []string{"eth_sign", "personal_sign", "eth_signTypedData_v4"} {
		err := p.Call(t.Context(), nil, method, account0.Hex(), "0x68656c6c6f")
		require.Error(t, err, method)
		assert.Equal(t, provider.CodeUnsupportedMethod, rpcCode(t, err), method)
	}
}

func TestForwardsToNode(t *testing.T) {
	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), newEmulator(t), node)

	var block string
	require.NoError(t, p.Call(t.Context(), &block, "eth_blockNumber"))
	assert.Equal(t, "0x10", block)

	err := p.Call(t.Context(), nil, "eth_mining")
	require.Error(t, err)
	assert.Equal(t, provider.CodeMethodNotFound, rpcCode(t, err))
}

func TestSendKeepsRequestID(t *testing.T) {
	p := newProvider(t, testConfig(), newEmulator(t), test.NewFakeNode(chainID))

	var req provider.Request
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","method":"eth_chainId","params":[]}`), &req))

	res := p.Send(t.Context(), &req)
	assert.JSONEq(t, `"abc"`, string(res.ID))
	assert.Nil(t, res.Error)
	assert.JSONEq(t, `"0x539"`, string(res.Result))
}

func TestSendAsync(t *testing.T) {
	p := newProvider(t, testConfig(), newEmulator(t), test.NewFakeNode(chainID))

	req, err := provider.NewRequest(7, "eth_chainId")
	require.NoError(t, err)

	done := make(chan *provider.Response, 1)
	p.SendAsync(t.Context(), req, func(res *provider.Response) {
		done <- res
	})

	select {
	case res := <-done:
		assert.JSONEq(t, `7`, string(res.ID))
		assert.JSONEq(t, `"0x539"`, string(res.Result))
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestStopUninstallsFilters(t *testing.T) {
	node := test.NewFakeNode(chainID)
	p := newProvider(t, testConfig(), newEmulator(t), node)

	var first, second string
	require.NoError(t, p.Call(t.Context(), &first, "eth_newBlockFilter"))
	require.NoError(t, p.Call(t.Context(), &second, "eth_newFilter", map[string]any{"fromBlock": "latest"}))
	require.Len(t, node.Filters(), 2)

	var removed bool
	require.NoError(t, p.Call(t.Context(), &removed, "eth_uninstallFilter", first))
	assert.True(t, removed)
	assert.Equal(t, []string{second}, node.Filters())

	assert.Empty(t, p.Stop(t.Context()))
	assert.Empty(t, node.Filters())
	assert.True(t, node.Closed())
	assert.Equal(t, 2, node.CallCount("eth_uninstallFilter"))

	err := p.Call(t.Context(), nil, "eth_chainId")
	require.Error(t, err)
	assert.Equal(t, provider.CodeResourceNotReady, rpcCode(t, err))
}

func TestSharedNonceNeverCollides(t *testing.T) {
	provider.SharedNonceTracker().Reset(account0)
	t.Cleanup(func() { provider.SharedNonceTracker().Reset(account0) })

	cfg := testConfig()
	cfg.ShareNonce = true

	node := test.NewFakeNode(chainID)
	dev := newEmulator(t)
	p1 := newProvider(t, cfg, dev, node)
	p2 := newProvider(t, cfg, dev, node)
	waitReady(t, p1)
	waitReady(t, p2)

	const sends = 6

	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for i := range sends {
		p := p1
		if i%2 == 1 {
			p = p2
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sendTx(context.Background(), p, account0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]bool)
	for _, tx := range node.Sent() {
		assert.False(t, seen[tx.Nonce()], "nonce %d used twice", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, sends)
}

func TestSeparateNonceTrackers(t *testing.T) {
	node := test.NewFakeNode(chainID)
	dev := newEmulator(t)
	p1 := newProvider(t, testConfig(), dev, node)
	p2 := newProvider(t, testConfig(), dev, node)
	waitReady(t, p1)
	waitReady(t, p2)

	_, err := sendTx(t.Context(), p1, account0)
	require.NoError(t, err)

	// p2 has its own tracker and takes the node's stale pending nonce
	_, err = sendTx(t.Context(), p2, account0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")

	_, err = sendTx(t.Context(), p1, account0)
	require.NoError(t, err)

	sent := node.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(0), sent[0].Nonce())
	assert.Equal(t, uint64(1), sent[1].Nonce())
}

func TestNewRequiresTarget(t *testing.T) {
	_, err := provider.New(t.Context(), testConfig(), provider.Options{Transport: newEmulator(t)})
	require.Error(t, err)

	_, err = provider.New(t.Context(), testConfig(), provider.Options{Caller: test.NewFakeNode(chainID)})
	require.Error(t, err)
}
