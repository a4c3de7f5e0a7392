package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCancelled marks jobs stopped by batch cancellation.
var ErrCancelled = errors.New("conversion cancelled")

// TimeoutError reports a job that exceeded the per-job timeout.
type TimeoutError struct {
	Job     string
	Stage   State
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s while %s", e.Job, e.Timeout, e.Stage)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
