package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yangwenmai/pagesmith/internal/hosting"
	"github.com/yangwenmai/pagesmith/internal/metrics"
	"github.com/yangwenmai/pagesmith/internal/model"
)

// Step names, as reported in StepError and metrics.
const (
	StepEnsureContainer = "ensure_container"
	StepGetContainer    = "get_container"
	StepReadArtifact    = "read_artifact"
	StepGenerate        = "generate"
	StepWriteArtifact   = "write_artifact"
	StepEnablePages     = "enable_public_serving"
	StepNotify          = "notify"
)

// Kind classifies why a pipeline aborted.
type Kind string

// Failure kinds
const (
	KindPrecondition Kind = "precondition"
	KindProvider     Kind = "provider"
	KindGeneration   Kind = "generation"
	KindNotification Kind = "notification"
)

// Commit messages for the two rounds.
const (
	buildCommitMessage  = "Round 1: Initial commit of AI-generated code"
	reviseCommitMessage = "Round 2: Update code based on new brief"
)

// ContentGenerator produces a complete document from a brief.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Notifier delivers the result payload to the evaluator.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any) error
}

// Archiver keeps a copy of each published revision. Failures are logged only.
type Archiver interface {
	Put(ctx context.Context, repo, revision string, body []byte) error
}

// Result is what a successful run produced.
type Result struct {
	Container *hosting.Container
	CommitSHA string
	Payload   model.NotificationPayload
	Summary   PageSummary
}

// Outcome converts r into the fields recorded for a finished run.
func (r *Result) Outcome() model.RunOutcome {
	return model.RunOutcome{
		RepoURL:   r.Payload.RepoURL,
		CommitSHA: r.CommitSHA,
		PagesURL:  r.Payload.PagesURL,
		PageTitle: r.Summary.Title,
	}
}

// Pipeline drives the build and revise rounds. Any step failure aborts the
// remaining steps; completed steps are not rolled back.
type Pipeline struct {
	store    hosting.Store
	gen      ContentGenerator
	notifier Notifier
	archive  Archiver

	repoPrefix   string
	artifactPath string
	tracer       trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchive stores every written revision in a.
func WithArchive(a Archiver) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithRepoPrefix sets the prefix of repository names (default "tds-app-").
func WithRepoPrefix(prefix string) Option {
	return func(p *Pipeline) { p.repoPrefix = prefix }
}

// WithArtifactPath sets the path of the generated page (default "index.html").
func WithArtifactPath(path string) Option {
	return func(p *Pipeline) { p.artifactPath = path }
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(store hosting.Store, gen ContentGenerator, notifier Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		gen:          gen,
		notifier:     notifier,
		repoPrefix:   "tds-app-",
		artifactPath: "index.html",
		tracer:       otel.Tracer("github.com/yangwenmai/pagesmith/internal/engine"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for task's round. On failure it returns a
// *StepError naming the failed step and its Kind.
func (p *Pipeline) Run(ctx context.Context, task *model.TaskRequest) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task", task.Task),
		attribute.Int("round", int(task.Round)),
	))
	defer span.End()

	var (
		res *Result
		err error
	)
	switch task.Round {
	case model.RoundBuild:
		res, err = p.runBuild(ctx, task)
	case model.RoundRevise:
		res, err = p.runRevise(ctx, task)
	default:
		err = model.ErrInvalidRound
	}

	round := task.Round.String()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var se *StepError
		if errors.As(err, &se) {
			metrics.StepFailures.WithLabelValues(se.Step, string(se.Kind)).Inc()
			metrics.RunsTotal.WithLabelValues(round, string(se.Kind)).Inc()
		} else {
			metrics.RunsTotal.WithLabelValues(round, "invalid").Inc()
		}
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues(round, "success").Inc()
	log.Ctx(ctx).Info().Str("repo", res.Payload.RepoURL).Str("pages_url", res.Payload.PagesURL).
		Msgf("round %d fully completed", task.Round)
	return res, nil
}

// runBuild: ensure_container → generate → write_artifact → enable_public_serving → notify.
func (p *Pipeline) runBuild(ctx context.Context, task *model.TaskRequest) (*Result, error) {
	name := model.ContainerName(p.repoPrefix, task.Task)

	c, err := p.ensureContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	body, err := p.generate(ctx, task, nil)
	if err != nil {
		return nil, err
	}
	sha, err := p.writeArtifact(ctx, c, buildCommitMessage, body)
	if err != nil {
		return nil, err
	}
	if err := p.enablePages(ctx, c); err != nil {
		return nil, err
	}
	return p.finish(ctx, task, c, sha, body)
}

// runRevise: get_container → read_artifact → generate(previous) → write_artifact → notify.
// Pages stay as enabled by the build round.
func (p *Pipeline) runRevise(ctx context.Context, task *model.TaskRequest) (*Result, error) {
	name := model.ContainerName(p.repoPrefix, task.Task)

	c, err := p.getContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	current, err := p.readArtifact(ctx, c)
	if err != nil {
		return nil, err
	}
	body, err := p.generate(ctx, task, &current)
	if err != nil {
		return nil, err
	}
	sha, err := p.writeArtifact(ctx, c, reviseCommitMessage, body)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, task, c, sha, body)
}

// finish records side information about the published page and notifies the evaluator.
func (p *Pipeline) finish(ctx context.Context, task *model.TaskRequest, c *hosting.Container, sha, body string) (*Result, error) {
	payload := model.NewNotificationPayload(task, c.HTMLURL, sha, c.PagesURL)
	err := p.notify(ctx, task.EvaluationURL, payload)
	p.archiveRevision(ctx, c, sha, body)
	if err != nil {
		return nil, err
	}
	return &Result{
		Container: c,
		CommitSHA: sha,
		Payload:   payload,
		Summary:   DescribePage(body, c.PagesURL),
	}, nil
}

// StepError wraps an error with the step name that failed and its kind.
type StepError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepName returns the name of the failed step.
func (e *StepError) StepName() string {
	return e.Step
}

// FailureKind returns the kind as a string.
func (e *StepError) FailureKind() string {
	return string(e.Kind)
}
