// Package scheduler runs conversion jobs on a bounded worker pool and
// reports their results in input order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/sandbox"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

// Input is one archive to convert.
type Input struct {
	Name string
	Open debutils.Opener
}

// Output is what a pipeline produced for a job. It is kept even when the
// pipeline fails so warnings reach the caller.
type Output struct {
	Plan     *planner.BuildPlan
	Artifact *sandbox.Artifact
	Warnings []mapper.Warning
}

// Pipeline converts a single input, advancing job through its stages.
// It must honour ctx.
type Pipeline func(ctx context.Context, job *Job, in Input) (Output, error)

// JobResult is the outcome of one job.
type JobResult struct {
	ID    string
	Index int
	Name  string
	State State
	// FailedAt is the state the job was in when it failed.
	FailedAt  State
	Err       error
	Cancelled bool
	Warnings  []mapper.Warning
	Plan      *planner.BuildPlan
	Artifact  *sandbox.Artifact
	History   []Transition
	Duration  time.Duration
}

func (r JobResult) OK() bool { return r.State == StateDone && r.Err == nil }

type Options struct {
	// Workers defaults to runtime.NumCPU().
	Workers int
	// Timeout bounds each job; zero disables it.
	Timeout time.Duration
	// Progress shows a progress bar on stderr.
	Progress bool
	// Registerer receives the scheduler metrics. When nil they are kept
	// in a private registry.
	Registerer prometheus.Registerer
}

type Scheduler struct {
	opts    Options
	metrics *metrics
}

func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Scheduler{opts: opts, metrics: newMetrics(reg)}
}

// Run converts inputs with p. The result slice is index-aligned with
// inputs. On cancellation no further jobs are started; jobs that never
// ran are reported failed and cancelled.
func (s *Scheduler) Run(ctx context.Context, inputs []Input, p Pipeline) []JobResult {
	log := logger.Logger()
	total := len(inputs)
	results := make([]JobResult, total)
	if total == 0 {
		return results
	}
	workers := s.opts.Workers
	if workers > total {
		workers = total
	}

	var bar *progressbar.ProgressBar
	if s.opts.Progress {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionFullWidth(),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}

	jobs := make(chan int, total)
	started := make([]bool, total)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if bar != nil {
					bar.Describe(fmt.Sprintf("converting %s", inputs[i].Name))
				}
				results[i] = s.runJob(ctx, i, inputs[i], p)
				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}()
	}

dispatch:
	for i := range inputs {
		select {
		case <-ctx.Done():
			break dispatch
		default:
		}
		select {
		case jobs <- i:
			started[i] = true
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	var failed, cancelled int
	for i := range results {
		if !started[i] {
			results[i] = s.cancelled(i, inputs[i])
		}
		if results[i].Cancelled {
			cancelled++
		}
		if !results[i].OK() {
			failed++
		}
	}
	log.Infof("Converted %d of %d packages (%d failed, %d cancelled)", total-failed, total, failed, cancelled)
	return results
}

func (s *Scheduler) observer(from, to State) {
	s.metrics.transitions.WithLabelValues(string(to)).Inc()
}

func (s *Scheduler) cancelled(i int, in Input) JobResult {
	job := newJob(i, in.Name, s.observer)
	_ = job.Advance(StateFailed)
	s.metrics.jobsTotal.WithLabelValues(string(StateFailed)).Inc()
	return JobResult{
		ID:        job.ID,
		Index:     i,
		Name:      in.Name,
		State:     StateFailed,
		FailedAt:  StatePending,
		Err:       ErrCancelled,
		Cancelled: true,
		History:   job.History(),
	}
}

func (s *Scheduler) runJob(parent context.Context, i int, in Input, p Pipeline) (res JobResult) {
	log := logger.Logger()
	job := newJob(i, in.Name, s.observer)
	start := time.Now()
	s.metrics.inFlight.Inc()

	ctx := parent
	var cancel context.CancelFunc = func() {}
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.opts.Timeout)
	}

	var out Output
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Job %s panicked: %v\n%s", in.Name, r, debug.Stack())
				err = fmt.Errorf("job %s panicked: %v", in.Name, r)
			}
		}()
		if err := parent.Err(); err != nil {
			return err
		}
		out, err = p(ctx, job, in)
		return err
	}()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()

	res = JobResult{
		ID:       job.ID,
		Index:    i,
		Name:     in.Name,
		Warnings: out.Warnings,
		Plan:     out.Plan,
		Artifact: out.Artifact,
	}
	if err == nil && job.State() != StateDone {
		err = fmt.Errorf("pipeline for %s returned in state %s", in.Name, job.State())
	}
	if err != nil {
		stage := job.State()
		switch {
		case parent.Err() != nil:
			res.Cancelled = true
			err = fmt.Errorf("%w while %s: %w", ErrCancelled, stage, err)
		case timedOut:
			err = &TimeoutError{Job: in.Name, Stage: stage, Timeout: s.opts.Timeout}
		}
		if !stage.Terminal() {
			_ = job.Advance(StateFailed)
		}
		res.FailedAt = stage
		res.Err = err
		log.Warnf("Conversion of %s failed while %s: %v", in.Name, stage, err)
	}
	res.State = job.State()
	res.History = job.History()
	res.Duration = time.Since(start)
	s.metrics.inFlight.Dec()
	s.metrics.recordJob(res.State, res.Duration.Seconds())
	return res
}
