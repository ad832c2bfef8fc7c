package device

import "github.com/pkg/errors"

var (
	// ErrDeviceDiscovery is returned when the transport fails before any device attached.
	ErrDeviceDiscovery = errors.New("device discovery failed")

	// ErrDeviceJob matches every JobError.
	ErrDeviceJob = errors.New("device job failed")
)

// JobError is what the submitter of a queued job gets when the job produced no
// result. It matches ErrDeviceJob and unwraps to the job's own failure.
type JobError struct {
	Err error
}

func (e *JobError) Error() string {
	return ErrDeviceJob.Error() + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return target == ErrDeviceJob //nolint:errorlint,err113 // sentinel identity
}
