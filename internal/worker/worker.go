// Package worker runs accepted task requests in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yangwenmai/pagesmith/internal/engine"
	"github.com/yangwenmai/pagesmith/internal/metrics"
	"github.com/yangwenmai/pagesmith/internal/model"
)

// ErrClosed is returned by Submit once Wait has been called.
var ErrClosed = errors.New("dispatcher is shutting down")

// Processor runs the pipeline for a single task request.
type Processor interface {
	Run(ctx context.Context, task *model.TaskRequest) (*engine.Result, error)
}

// RunLedger records run state transitions.
type RunLedger interface {
	CreateRun(ctx context.Context, run model.Run) error
	MarkRunning(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, out model.RunOutcome) error
	FailRun(ctx context.Context, id, failedStep string, errorInfo *string) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRun(ctx context.Context, r model.Run) error
}

// Dispatcher starts one goroutine per accepted request. Runs are detached from
// the request that submitted them and cannot be cancelled once started.
type Dispatcher struct {
	processor Processor
	ledger    RunLedger
	events    EventPublisher

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEvents publishes every finished run to p.
func WithEvents(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// New creates a Dispatcher.
func New(processor Processor, ledger RunLedger, opts ...Option) *Dispatcher {
	d := &Dispatcher{processor: processor, ledger: ledger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit records task as ACCEPTED, starts its pipeline in the background and
// returns the run id without waiting. A ledger failure is logged only.
func (d *Dispatcher) Submit(ctx context.Context, task *model.TaskRequest) (string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	run := model.NewRun(uuid.NewString(), task)
	logger := log.Ctx(ctx).With().
		Str("run_id", run.ID).
		Str("task", task.Task).
		Int("round", int(task.Round)).
		Logger()

	if err := d.ledger.CreateRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("record run")
	}

	bg := logger.WithContext(context.WithoutCancel(ctx))
	go d.execute(bg, run, task)

	logger.Info().Msg("task accepted")
	return run.ID, nil
}

// Wait stops accepting new runs and blocks until in-flight runs finish or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) execute(ctx context.Context, run model.Run, task *model.TaskRequest) {
	defer d.wg.Done()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	logger := zerolog.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			d.fail(ctx, run, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := d.ledger.MarkRunning(ctx, run.ID); err != nil {
		logger.Warn().Err(err).Msg("mark run RUNNING")
	}
	run.Status = model.RunRunning

	res, err := d.processor.Run(ctx, task)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline failed")
		d.fail(ctx, run, err)
		return
	}
	d.complete(ctx, run, res.Outcome())
}

func (d *Dispatcher) complete(ctx context.Context, run model.Run, out model.RunOutcome) {
	if err := d.ledger.CompleteRun(ctx, run.ID, out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("mark run SUCCEEDED")
	}
	run.Status = model.RunSucceeded
	run.RepoURL, run.CommitSHA, run.PagesURL, run.PageTitle = out.RepoURL, out.CommitSHA, out.PagesURL, out.PageTitle
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	d.publish(ctx, run)
}

func (d *Dispatcher) fail(ctx context.Context, run model.Run, err error) {
	step, info := buildErrorInfo(err)
	if lErr := d.ledger.FailRun(ctx, run.ID, step, &info); lErr != nil {
		zerolog.Ctx(ctx).Warn().Err(lErr).Msg("mark run FAILED")
	}
	run.Status = model.RunFailed
	run.FailedStep, run.ErrorInfo = &step, &info
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	d.publish(ctx, run)
}

func (d *Dispatcher) publish(ctx context.Context, run model.Run) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishRun(ctx, run); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("publish run event")
	}
}

// stepNamer is implemented by errors that carry a pipeline step name.
type stepNamer interface {
	StepName() string
	FailureKind() string
}

func buildErrorInfo(err error) (string, string) {
	step, kind := "unknown", "internal"
	var sn stepNamer
	if errors.As(err, &sn) {
		step, kind = sn.StepName(), sn.FailureKind()
	}
	info := model.ErrorInfo{
		FailedStep: step,
		Kind:       kind,
		Message:    err.Error(),
		FailedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	return step, info.ToJSON()
}
