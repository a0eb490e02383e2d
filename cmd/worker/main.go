// Command worker runs the pinpoint search pipeline, either as a standalone
// asynq queue consumer or as a one-shot subprocess reading a job from stdin
// and writing the result to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/clients"
	"github.com/pinpoint-video/worker/internal/config"
	"github.com/pinpoint-video/worker/internal/gemini"
	"github.com/pinpoint-video/worker/internal/media"
	"github.com/pinpoint-video/worker/internal/models"
	"github.com/pinpoint-video/worker/internal/pipeline"
	"github.com/pinpoint-video/worker/internal/queue"
	"github.com/pinpoint-video/worker/internal/search"
	"github.com/pinpoint-video/worker/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	mode := os.Getenv("WORKER_MODE")
	if mode == "subprocess" {
		os.Exit(runSubprocess(cfg, logger))
	}
	if err := runStandalone(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

// newLogger writes human-readable logs to stderr, keeping stdout free for
// subprocess-mode results.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

// runSubprocess reads one search job as JSON from stdin, runs it, and writes
// the result as JSON to stdout. Progress is logged, not published.
func runSubprocess(cfg config.Config, logger zerolog.Logger) int {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return subprocessError(logger, fmt.Errorf("read stdin: %w", err))
	}

	var job models.SearchJob
	if err := json.Unmarshal(input, &job); err != nil {
		return subprocessError(logger, fmt.Errorf("parse job payload: %w", err))
	}
	if job.JobID == "" {
		job.JobID = models.NewJobID()
	}
	logger = logger.With().Str("job_id", job.JobID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, extractor, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return subprocessError(logger, err)
	}

	sinks := pipeline.Sinks{Progress: logProgress{logger}}
	var collector *media.ClipCollector
	if extractor != nil && cfg.ClipOutputDir != "" {
		collector, err = media.NewClipCollector(extractor, filepath.Join(cfg.ClipOutputDir, job.JobID), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("clip collector unavailable")
		} else {
			sinks.Clip = collector
		}
	}

	result, err := p.Run(ctx, job.Query, sinks)
	if err != nil {
		return subprocessError(logger, err)
	}

	if collector != nil {
		digest := filepath.Join(cfg.ClipOutputDir, job.JobID+".mp4")
		if err := collector.Merge(ctx, digest); err != nil {
			logger.Warn().Err(err).Msg("clip merge failed")
		}
	}

	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		return subprocessError(logger, fmt.Errorf("write result: %w", err))
	}
	return 0
}

func subprocessError(logger zerolog.Logger, err error) int {
	logger.Error().Err(err).Msg("subprocess run failed")
	json.NewEncoder(os.Stdout).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
	return 1
}

// logProgress mirrors the progress stream into the log in subprocess mode.
type logProgress struct {
	logger zerolog.Logger
}

func (l logProgress) OnProgress(ev models.ProgressEvent) {
	l.logger.Info().
		Str("phase", ev.Phase).
		Str("step", ev.Step).
		Float64("progress", ev.Progress).
		Msg("progress")
}

// runStandalone consumes search jobs from the Redis queue until interrupted.
func runStandalone(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("pinpoint worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, extractor, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var store *storage.SessionStore
	if cfg.PostgresURL != "" {
		store, err = storage.NewSessionStore(cfg.PostgresURL, logger)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer store.Close()
		logger.Info().Msg("session store connected")
	} else {
		logger.Warn().Msg("postgres_url not set, results will not be persisted")
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		RedisURL:      cfg.RedisURL,
		Concurrency:   cfg.QueueConcurrency,
		Pipeline:      p,
		Store:         store,
		Extractor:     extractor,
		ClipOutputDir: cfg.ClipOutputDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("queue consumer: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Start()
	}()

	logger.Info().
		Int("concurrency", cfg.QueueConcurrency).
		Str("temp_dir", cfg.TempDir).
		Msg("worker ready, waiting for jobs")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		consumer.Stop()
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("pinpoint worker stopped")
	return nil
}

// buildPipeline wires the model clients, search and media layers into a
// runnable pipeline. The extractor is returned separately for clip-digest
// wiring; it is nil when refinement is disabled.
func buildPipeline(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*pipeline.Pipeline, *media.Extractor, error) {
	genaiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}

	ytClient, err := clients.NewYouTubeSearchClient(cfg.YouTubeAPIKey, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("youtube client: %w", err)
	}

	deps := pipeline.Deps{
		Text:        gemini.NewTextModel(genaiClient, cfg.TextModelName, logger),
		Searcher:    search.NewMulti(ytClient, logger),
		Transcripts: clients.NewTranscriptClient(logger),
	}

	var extractor *media.Extractor
	if cfg.EnableVLMRefinement {
		deps.Video = gemini.NewVideoModel(genaiClient, cfg.VideoModel, logger)
		extractor, err = media.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath, cfg.YtDlpPath, cfg.TempDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("media extractor: %w", err)
		}
		deps.Extractor = extractor
	}

	p, err := pipeline.New(cfg, deps, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, extractor, nil
}
