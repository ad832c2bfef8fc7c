package device_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/test"
)

func firstPath(t *testing.T) accounts.DerivationPath {
	t.Helper()
	path, err := accounts.ParseDerivationPath("m/44'/60'/0'/0/0")
	require.NoError(t, err)
	return path
}

func TestWithDeviceReturnsJobResult(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{"m/44'/60'/0'/0/0": "0xabc"})
	q := device.NewQueue(nil)

	res, err := device.WithDevice(t.Context(), q, dev, dev.Handle, func(ctx context.Context, s device.Session) (string, error) {
		return s.GetAddress(ctx, firstPath(t))
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res)

	intervals := dev.Intervals()
	require.Len(t, intervals, 1)
	assert.False(t, intervals[0].Closed.IsZero(), "session must be closed after the job")
	assert.False(t, q.Busy())
}

func TestWithDeviceSerializesConcurrentJobs(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{"m/44'/60'/0'/0/0": "0xabc"})
	dev.CallDelay = 5 * time.Millisecond
	q := device.NewQueue(nil)

	path := firstPath(t)

	const jobs = 20
	var wg sync.WaitGroup
	for range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := device.WithDevice(t.Context(), q, dev, dev.Handle, func(ctx context.Context, s device.Session) (string, error) {
				return s.GetAddress(ctx, path)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dev.MaxConcurrentSessions())

	intervals := dev.Intervals()
	require.Len(t, intervals, jobs)
	for i := 1; i < len(intervals); i++ {
		assert.False(t, intervals[i].Opened.Before(intervals[i-1].Closed),
			"session %d opened before session %d closed", i, i-1)
	}
}

func TestWithDeviceKeepsSubmissionOrder(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	obs := &countingObserver{}
	q := device.NewQueue(obs)

	var (
		mu    sync.Mutex
		order []int
	)

	release := make(chan struct{})
	var wg sync.WaitGroup

	// The first job holds the device until every other job has been queued.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return 0, nil
		})
	}()
	require.Eventually(t, q.Busy, time.Second, time.Millisecond)

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		}(i)
		require.Eventually(t, func() bool { return obs.Queued() == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestWithDeviceIsolatesFailures(t *testing.T) {
	dev := test.NewFakeDevice(map[string]string{"m/44'/60'/0'/0/0": "0xabc"})
	q := device.NewQueue(nil)

	_, err := device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (string, error) {
		return "", errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrDeviceJob)

	_, err = device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (string, error) {
		panic("device went away")
	})
	assert.ErrorIs(t, err, device.ErrDeviceJob)

	res, err := device.WithDevice(t.Context(), q, dev, dev.Handle, func(ctx context.Context, s device.Session) (string, error) {
		return s.GetAddress(ctx, firstPath(t))
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res)

	for _, iv := range dev.Intervals() {
		assert.False(t, iv.Closed.IsZero())
	}
}

func TestWithDeviceOpenFailure(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	q := device.NewQueue(nil)

	called := false
	_, err := device.WithDevice(t.Context(), q, dev, "fake://unknown", func(context.Context, device.Session) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	assert.ErrorIs(t, err, device.ErrDeviceJob)
	assert.False(t, called)
	assert.False(t, q.Busy())
}

type countingObserver struct {
	mu                        sync.Mutex
	queued, started, finished int
	failed                    int
}

func (o *countingObserver) JobQueued() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued++
}

func (o *countingObserver) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued
}

func (o *countingObserver) JobStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) JobFinished(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	if err != nil {
		o.failed++
	}
}

func TestQueueObserver(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	obs := &countingObserver{}
	q := device.NewQueue(obs)

	_, _ = device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
		return 1, nil
	})
	_, _ = device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
		return 0, errors.New("nope")
	})

	assert.Equal(t, 2, obs.queued)
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 2, obs.finished)
	assert.Equal(t, 1, obs.failed)
}

func TestQueuesAreIndependent(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	q1 := device.NewQueue(nil)
	q2 := device.NewQueue(nil)

	release := make(chan struct{})
	go func() {
		_, _ = device.WithDevice(t.Context(), q1, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
			<-release
			return 0, nil
		})
	}()
	require.Eventually(t, q1.Busy, time.Second, time.Millisecond)

	res, err := device.WithDevice(t.Context(), q2, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res)

	close(release)
}

var errSentinel = errors.New("sentinel")

func TestJobErrorUnwrapsCause(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	q := device.NewQueue(nil)

	_, err := device.WithDevice(t.Context(), q, dev, dev.Handle, func(context.Context, device.Session) (int, error) {
		return 0, errors.Wrap(errSentinel, "inner")
	})

	var jobErr *device.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.ErrorIs(t, err, device.ErrDeviceJob)
	assert.ErrorIs(t, err, errSentinel)
}

// slowOpener holds Open until release is closed.
type slowOpener struct {
	device.Opener
	opening chan struct{}
	release chan struct{}
}

func (o slowOpener) Open(ctx context.Context, handle device.Handle) (device.Session, error) {
	close(o.opening)
	<-o.release
	return o.Opener.Open(ctx, handle)
}

func TestBusyOnlyWhileSessionOpen(t *testing.T) {
	dev := test.NewFakeDevice(nil)
	q := device.NewQueue(nil)
	opener := slowOpener{Opener: dev, opening: make(chan struct{}), release: make(chan struct{})}

	busyInJob := make(chan bool, 1)
	done := make(chan error, 1)
	go func() {
		_, err := device.WithDevice(t.Context(), q, opener, dev.Handle, func(context.Context, device.Session) (struct{}, error) {
			busyInJob <- q.Busy()
			return struct{}{}, nil
		})
		done <- err
	}()

	<-opener.opening
	assert.False(t, q.Busy(), "not busy while the session is still being opened")

	close(opener.release)
	require.NoError(t, <-done)
	assert.True(t, <-busyInJob)
	assert.False(t, q.Busy())
}
