// Package queue consumes search jobs from Redis via asynq and publishes
// per-job progress over Redis pub/sub.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/media"
	"github.com/pinpoint-video/worker/internal/models"
	"github.com/pinpoint-video/worker/internal/pipeline"
	"github.com/pinpoint-video/worker/internal/storage"
)

// TaskTypeSearch is the asynq task type for a search run.
const TaskTypeSearch = "pinpoint:search"

// NewSearchTask builds an enqueueable task from a job payload.
func NewSearchTask(job models.SearchJob) (*asynq.Task, error) {
	if job.JobID == "" {
		job.JobID = models.NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal search job: %w", err)
	}
	return asynq.NewTask(TaskTypeSearch, payload), nil
}

// ConsumerConfig holds consumer wiring.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int

	Pipeline *pipeline.Pipeline
	// Store is optional; without it results are only published.
	Store *storage.SessionStore
	// Extractor and ClipOutputDir enable per-job clip saving and digest
	// concatenation. Both optional.
	Extractor     *media.Extractor
	ClipOutputDir string
}

// Consumer runs search jobs from the queue.
type Consumer struct {
	server    *asynq.Server
	rdb       *redis.Client
	pipeline  *pipeline.Pipeline
	store     *storage.SessionStore
	extractor *media.Extractor
	clipDir   string
	logger    zerolog.Logger
}

// NewConsumer builds the asynq server and the Redis client used for
// progress publishing.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	clientOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	qlog := logger.With().Str("component", "queue").Logger()
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"pinpoint:critical": 6,
				"pinpoint:default":  3,
				"pinpoint:low":      1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// 1min, 2min, 4min
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				qlog.Error().Str("task", task.Type()).Err(err).Msg("task failed")
			}),
		},
	)

	return &Consumer{
		server:    server,
		rdb:       redis.NewClient(clientOpt),
		pipeline:  cfg.Pipeline,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		clipDir:   cfg.ClipOutputDir,
		logger:    qlog,
	}, nil
}

// Start blocks serving tasks until Stop is called.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSearch, c.handleSearchTask)

	c.logger.Info().Msg("queue consumer starting")
	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("run queue server: %w", err)
	}
	return nil
}

// Stop drains in-flight tasks and shuts the server down.
func (c *Consumer) Stop() {
	c.logger.Info().Msg("queue consumer stopping")
	c.server.Shutdown()
	c.rdb.Close()
}

func (c *Consumer) handleSearchTask(ctx context.Context, task *asynq.Task) error {
	var job models.SearchJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("unmarshal search job: %w", err)
	}
	if job.JobID == "" {
		job.JobID = models.NewJobID()
	}

	logger := c.logger.With().Str("job_id", job.JobID).Logger()
	logger.Info().Str("query", job.Query).Msg("search job started")

	if c.store != nil {
		if err := c.store.CreateSession(ctx, job.JobID, job.Query); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := c.store.UpdateStatus(ctx, job.JobID, storage.StatusRunning, ""); err != nil {
			logger.Warn().Err(err).Msg("mark session running")
		}
	}

	sinks := pipeline.Sinks{
		Progress: NewProgressPublisher(c.rdb, job.JobID, c.logger),
	}
	if c.store != nil {
		sinks.Subtitle = &subtitleRecorder{store: c.store, jobID: job.JobID}
	}

	var collector *media.ClipCollector
	if c.extractor != nil && c.clipDir != "" {
		col, err := media.NewClipCollector(c.extractor, filepath.Join(c.clipDir, job.JobID), c.logger)
		if err != nil {
			logger.Warn().Err(err).Msg("clip collector unavailable")
		} else {
			collector = col
			sinks.Clip = collector
		}
	}

	result, err := c.pipeline.Run(ctx, job.Query, sinks)
	if err != nil {
		logger.Error().Err(err).Msg("search job failed")
		if c.store != nil {
			if serr := c.store.UpdateStatus(context.WithoutCancel(ctx), job.JobID, storage.StatusFailed, err.Error()); serr != nil {
				logger.Warn().Err(serr).Msg("mark session failed")
			}
		}
		return err
	}

	if collector != nil {
		digest := filepath.Join(c.clipDir, job.JobID+".mp4")
		if err := collector.Merge(ctx, digest); err != nil {
			logger.Warn().Err(err).Msg("clip merge failed")
		}
	}

	if c.store != nil {
		if err := c.store.StoreResult(ctx, job.JobID, result); err != nil {
			logger.Error().Err(err).Msg("persist result")
			return fmt.Errorf("persist result: %w", err)
		}
	}

	logger.Info().
		Int("segments", len(result.Segments)).
		Float64("elapsed_sec", result.ProcessingTimeSec).
		Msg("search job completed")
	return nil
}

// subtitleRecorder persists subtitles as the transcript stage fetches them.
type subtitleRecorder struct {
	store *storage.SessionStore
	jobID string
}

func (r *subtitleRecorder) OnSubtitle(videoID string, sub *models.Subtitle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.store.StoreSubtitle(ctx, r.jobID, sub)
}
