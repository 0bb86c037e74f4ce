package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yangwenmai/pagesmith/internal/api"
	"github.com/yangwenmai/pagesmith/internal/archive"
	"github.com/yangwenmai/pagesmith/internal/config"
	"github.com/yangwenmai/pagesmith/internal/engine"
	"github.com/yangwenmai/pagesmith/internal/events"
	"github.com/yangwenmai/pagesmith/internal/hosting"
	"github.com/yangwenmai/pagesmith/internal/notify"
	"github.com/yangwenmai/pagesmith/internal/store"
	"github.com/yangwenmai/pagesmith/internal/telemetry"
	"github.com/yangwenmai/pagesmith/internal/worker"
)

// drainTimeout bounds how long shutdown waits for in-flight pipelines. A
// generation alone may take two minutes and notification up to a further ~90s.
const drainTimeout = 5 * time.Minute

func newServeCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.DryRun = dryRun
			}
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory hosting store and a stub model")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if _, err := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	runs, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if n, err := runs.ResetStaleRuns(ctx); err != nil {
		log.Warn().Err(err).Msg("reset stale runs")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("marked runs interrupted by the last shutdown as ABANDONED")
	}

	hosts, err := newHostingStore(ctx, cfg)
	if err != nil {
		return err
	}
	modelClient, err := newModelClient(cfg)
	if err != nil {
		return err
	}

	pipelineOpts := []engine.Option{
		engine.WithRepoPrefix(cfg.RepoPrefix),
		engine.WithArtifactPath(cfg.ArtifactPath),
	}
	if cfg.ArchiveBucket != "" {
		arch, err := archive.New(ctx, archive.Options{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.ArchiveBucket,
			ForcePathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		pipelineOpts = append(pipelineOpts, engine.WithArchive(arch))
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("revision archive enabled")
	}

	pipeline := engine.NewPipeline(
		hosts,
		engine.NewGenerator(modelClient, cfg.GenerateTimeout),
		notify.New(
			notify.WithAttempts(cfg.NotifyAttempts),
			notify.WithBaseDelay(cfg.NotifyBaseDelay),
			notify.WithTimeout(cfg.NotifyTimeout),
		),
		pipelineOpts...,
	)

	var dispatcherOpts []worker.Option
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.Connect(cfg.NATSURL, cfg.EventSubject,
			nats.Name(telemetry.ServiceName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer publisher.Close()
		dispatcherOpts = append(dispatcherOpts, worker.WithEvents(publisher))
		log.Info().Str("subject", cfg.EventSubject).Msg("run events enabled")
	}
	dispatcher := worker.New(pipeline, runs, dispatcherOpts...)

	srv := api.New(api.Options{
		Secret:             cfg.Secret,
		Dispatcher:         dispatcher,
		Runs:               runs,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              readiness(db, publisher),
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("dry_run", cfg.DryRun).Str("llm", cfg.LLMProvider).Msg("pagesmith listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Error().Err(err).Msg("in-flight runs did not finish")
	}
	return nil
}

func newHostingStore(ctx context.Context, cfg config.Config) (hosting.Store, error) {
	if cfg.DryRun {
		owner := cfg.GitHubOwner
		if owner == "" {
			owner = "dry-run"
		}
		log.Warn().Str("owner", owner).Msg("dry run: repositories are kept in memory")
		return hosting.NewMemoryStore(owner), nil
	}

	client, err := hosting.NewGitHubClient(cfg.GitHubToken, cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	var opts []hosting.GitHubOption
	if cfg.GitHubOwner != "" {
		opts = append(opts, hosting.WithOwner(cfg.GitHubOwner))
	}
	gh, err := hosting.NewGitHubStore(ctx, client, opts...)
	if err != nil {
		return nil, fmt.Errorf("github store: %w", err)
	}
	log.Info().Str("owner", gh.Owner()).Msg("publishing to GitHub")
	return gh, nil
}

func newModelClient(cfg config.Config) (engine.ModelClient, error) {
	if cfg.DryRun {
		return &engine.StubModelClient{}, nil
	}
	switch cfg.LLMProvider {
	case "gemini":
		return engine.NewGeminiClient(cfg.GeminiKey, engine.WithGeminiModel(cfg.GeminiModel)), nil
	case "openai":
		return engine.NewOpenAIClient(cfg.OpenAIKey,
			engine.WithBaseURL(cfg.OpenAIBaseURL),
			engine.WithModel(cfg.OpenAIModel),
		), nil
	case "claude":
		return engine.NewClaudeClient(cfg.AnthropicKey, engine.WithClaudeModel(cfg.AnthropicModel)), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

func readiness(db *sql.DB, publisher *events.Publisher) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if publisher != nil && !publisher.Connected() {
			return errors.New("nats: not connected")
		}
		return nil
	}
}
