package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRunning is returned when a single-flight job is triggered
	// while an execution is in progress.
	ErrAlreadyRunning = errors.New("job already running")
	// ErrPostponed is returned when the minimum delay has not elapsed or a
	// dependency job holds the slot.
	ErrPostponed = errors.New("job postponed")
)

// postponeRetryDelay is how long the periodic loop waits before retrying a
// postponed execution.
const postponeRetryDelay = 200 * time.Millisecond

// AsyncJob wraps a callable with single-flight execution, a minimum delay
// between runs and dependency gating: a job never runs concurrently with one
// of its dependency jobs unless the check is explicitly ignored.
type AsyncJob struct {
	name     string
	callable func(ctx context.Context) error

	executionInterval time.Duration
	minExecutionDelay time.Duration

	enableMultipleRuns      bool
	ignoreDependenciesCheck bool

	mu           sync.Mutex
	dependencies []*AsyncJob
	running      bool
	lastRunEnd   time.Time
	shouldStop   bool
}

func NewAsyncJob(name string, interval time.Duration, callable func(ctx context.Context) error) *AsyncJob {
	return &AsyncJob{
		name:              name,
		executionInterval: interval,
		callable:          callable,
	}
}

func (j *AsyncJob) WithMinExecutionDelay(delay time.Duration) *AsyncJob {
	j.minExecutionDelay = delay
	return j
}

func (j *AsyncJob) WithMultipleRuns() *AsyncJob {
	j.enableMultipleRuns = true
	return j
}

func (j *AsyncJob) IgnoreDependenciesCheck() *AsyncJob {
	j.ignoreDependenciesCheck = true
	return j
}

// AddDependency registers a job that must not run concurrently with this one.
func (j *AsyncJob) AddDependency(dep *AsyncJob) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dependencies = append(j.dependencies, dep)
}

func (j *AsyncJob) Name() string {
	return j.name
}

func (j *AsyncJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Stop asks the periodic loop to exit at its next iteration.
func (j *AsyncJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.shouldStop = true
}

func (j *AsyncJob) stopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.shouldStop
}

func (j *AsyncJob) dependencyRunning() bool {
	for _, dep := range j.dependencies {
		if dep.IsRunning() {
			return true
		}
	}
	return false
}

// acquire claims the execution slot or reports why it cannot run now.
func (j *AsyncJob) acquire(force bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running && !j.enableMultipleRuns {
		return ErrAlreadyRunning
	}
	if !force && j.minExecutionDelay > 0 && !j.lastRunEnd.IsZero() &&
		time.Since(j.lastRunEnd) < j.minExecutionDelay {
		return ErrPostponed
	}
	if !j.ignoreDependenciesCheck && j.dependencyRunning() {
		return ErrPostponed
	}
	j.running = true
	return nil
}

func (j *AsyncJob) release() {
	j.mu.Lock()
	j.running = false
	j.lastRunEnd = time.Now()
	j.mu.Unlock()
}

// RunOnce executes the callable a single time, honoring the single-flight
// lock and dependency gating. force bypasses the minimum delay only.
func (j *AsyncJob) RunOnce(ctx context.Context, force bool) error {
	if err := j.acquire(force); err != nil {
		return err
	}
	defer j.release()
	return j.callable(ctx)
}

// Trigger waits for the execution slot and runs the job once. It is the
// forced-refresh entry point: a postponed or busy job is retried until the
// context expires.
func (j *AsyncJob) Trigger(ctx context.Context) error {
	for {
		err := j.RunOnce(ctx, true)
		if !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrPostponed) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(postponeRetryDelay):
		}
	}
}

// Run drives the periodic loop until the context is done or Stop is called.
// Callable errors are logged, never fatal to the loop.
func (j *AsyncJob) Run(ctx context.Context) {
	log := logger.WithFields(map[string]interface{}{
		"component": "jobs",
		"job":       j.name,
	})
	log.Info("Job loop started")

	for {
		if j.stopped() {
			log.Info("Job loop stopped")
			return
		}

		started := time.Now()
		err := j.RunOnce(ctx, false)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrPostponed):
			select {
			case <-ctx.Done():
				log.Info("Job loop canceled")
				return
			case <-time.After(postponeRetryDelay):
			}
			continue
		case errors.Is(err, context.Canceled):
			log.Info("Job loop canceled")
			return
		default:
			log.WithError(err).Error("Job execution failed")
		}

		remaining := j.executionInterval - time.Since(started)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-ctx.Done():
			log.Info("Job loop canceled")
			return
		case <-time.After(remaining):
		}
	}
}
