package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/ledger-provider/internal/util"
)

// Job is a unit of work run against an open session.
type Job[T any] func(ctx context.Context, session Session) (T, error)

// Observer is notified about the life cycle of queued jobs.
type Observer interface {
	JobQueued()
	JobStarted()
	JobFinished(duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) JobQueued()                       {}
func (nopObserver) JobStarted()                      {}
func (nopObserver) JobFinished(time.Duration, error) {}

// Queue serializes every operation against the device. Jobs run one at a time in
// submission order; a failing job never affects the ones queued after it.
type Queue struct {
	mu       sync.Mutex
	tail     chan struct{}
	busy     atomic.Bool
	observer Observer
}

// NewQueue creates an empty queue. observer may be nil.
func NewQueue(observer Observer) *Queue {
	if observer == nil {
		observer = nopObserver{}
	}

	tail := make(chan struct{})
	close(tail)

	return &Queue{
		tail:     tail,
		observer: observer,
	}
}

// Busy reports whether a job currently holds an open session.
func (q *Queue) Busy() bool {
	return q.busy.Load()
}

// enqueue appends step to the chain and returns a channel closed once it ran.
func (q *Queue) enqueue(step func()) <-chan struct{} {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tail
	q.tail = done
	q.mu.Unlock()

	q.observer.JobQueued()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Queue error")
			}
		}()

		<-prev
		step()
	}()

	return done
}

// WithDevice queues job against the device behind handle and waits for it.
// The session is opened right before the job runs and closed right after.
// If opening or the job fails, the failure is logged and the caller gets the
// zero value together with a *JobError.
func WithDevice[T any](ctx context.Context, q *Queue, opener Opener, handle Handle, job Job[T]) (T, error) {
	var (
		res    T
		jobErr error
	)

	jobID := uuid.NewString()
	logger := util.LogFromContext(ctx).With().
		Str("component", "device_queue").
		Str("job_id", jobID).
		Str("device", string(handle)).
		Logger()
	ctx = util.ContextWithLogger(ctx, logger)

	<-q.enqueue(func() {
		q.observer.JobStarted()
		start := time.Now()

		res, jobErr = runJob(ctx, q, opener, handle, job)

		q.observer.JobFinished(time.Since(start), jobErr)
	})

	if jobErr != nil {
		logger.Error().Err(jobErr).Msg("Device error")

		var zero T
		return zero, &JobError{Err: jobErr}
	}

	return res, nil
}

// runJob opens a session, runs job on it and closes it again. Busy is set for
// exactly as long as the session is open.
func runJob[T any](ctx context.Context, q *Queue, opener Opener, handle Handle, job Job[T]) (res T, err error) {
	logger := util.LogFromContext(ctx)

	session, err := opener.Open(ctx, handle)
	if err != nil {
		return res, errors.Wrap(err, "failed to open device session")
	}
	q.busy.Store(true)
	logger.Debug().Msg("Device session opened")

	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close device session")
		}
		q.busy.Store(false)
		logger.Debug().Msg("Device session closed")
	}()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job panicked: %v", r)
		}
	}()

	return job(ctx, session)
}
