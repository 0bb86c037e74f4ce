package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"github.com/yangwenmai/pagesmith/internal/hosting"
	"github.com/yangwenmai/pagesmith/internal/metrics"
	"github.com/yangwenmai/pagesmith/internal/model"
)

// step runs fn inside a span, times it, and turns a failure into a *StepError
// of the kind chosen by classify.
func (p *Pipeline) step(ctx context.Context, name string, classify func(error) Kind, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	logger := log.Ctx(ctx).With().Str("step", name).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		metrics.StepDuration.WithLabelValues(name, "error").Observe(elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind := classify(err)
		logger.Error().Err(err).Str("kind", string(kind)).Dur("elapsed", elapsed).Msg("step failed")
		return &StepError{Step: name, Kind: kind, Err: err}
	}
	metrics.StepDuration.WithLabelValues(name, "ok").Observe(elapsed.Seconds())
	logger.Debug().Dur("elapsed", elapsed).Msg("step done")
	return nil
}

func always(k Kind) func(error) Kind {
	return func(error) Kind { return k }
}

// missingIsPrecondition maps hosting.ErrNotFound to a precondition failure.
func missingIsPrecondition(err error) Kind {
	if errors.Is(err, hosting.ErrNotFound) {
		return KindPrecondition
	}
	return KindProvider
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

func (p *Pipeline) ensureContainer(ctx context.Context, name string) (*hosting.Container, error) {
	var c *hosting.Container
	err := p.step(ctx, StepEnsureContainer, always(KindProvider), func(ctx context.Context) (err error) {
		c, err = p.store.EnsureContainer(ctx, name)
		return err
	})
	return c, err
}

func (p *Pipeline) getContainer(ctx context.Context, name string) (*hosting.Container, error) {
	var c *hosting.Container
	err := p.step(ctx, StepGetContainer, missingIsPrecondition, func(ctx context.Context) (err error) {
		c, err = p.store.GetContainer(ctx, name)
		return err
	})
	return c, err
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

func (p *Pipeline) readArtifact(ctx context.Context, c *hosting.Container) (string, error) {
	var body string
	err := p.step(ctx, StepReadArtifact, missingIsPrecondition, func(ctx context.Context) (err error) {
		body, err = p.store.ReadArtifact(ctx, c, p.artifactPath)
		return err
	})
	return body, err
}

func (p *Pipeline) writeArtifact(ctx context.Context, c *hosting.Container, message, body string) (string, error) {
	var sha string
	err := p.step(ctx, StepWriteArtifact, always(KindProvider), func(ctx context.Context) (err error) {
		sha, err = p.store.WriteArtifact(ctx, c, p.artifactPath, message, body)
		if err == nil {
			log.Ctx(ctx).Info().Str("path", p.artifactPath).Str("commit_sha", sha).Msg("pushed file")
		}
		return err
	})
	return sha, err
}

func (p *Pipeline) enablePages(ctx context.Context, c *hosting.Container) error {
	return p.step(ctx, StepEnablePages, always(KindProvider), func(ctx context.Context) error {
		return p.store.EnablePublicServing(ctx, c)
	})
}

// archiveTimeout bounds the archive upload including SDK retries.
const archiveTimeout = 30 * time.Second

// archiveRevision is best-effort and runs after the evaluator is notified.
func (p *Pipeline) archiveRevision(ctx context.Context, c *hosting.Container, sha, body string) {
	if p.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := p.archive.Put(ctx, c.Name, sha, []byte(body)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("commit_sha", sha).Msg("archive revision failed")
	}
}

// ---------------------------------------------------------------------------
// Generation and notification
// ---------------------------------------------------------------------------

func (p *Pipeline) generate(ctx context.Context, task *model.TaskRequest, previous *string) (string, error) {
	var body string
	err := p.step(ctx, StepGenerate, always(KindGeneration), func(ctx context.Context) (err error) {
		body, err = p.gen.Generate(ctx, GenerateRequest{
			Brief:       task.Brief,
			Checks:      task.Checks,
			Attachments: task.Attachments,
			Previous:    previous,
		})
		return err
	})
	return body, err
}

func (p *Pipeline) notify(ctx context.Context, url string, payload model.NotificationPayload) error {
	return p.step(ctx, StepNotify, always(KindNotification), func(ctx context.Context) error {
		return p.notifier.Notify(ctx, url, payload)
	})
}
