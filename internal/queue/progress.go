package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/models"
)

// latestTTL bounds how long the last-seen progress snapshot survives after
// the run ends.
const latestTTL = time.Hour

// ProgressChannel returns the pub/sub channel carrying a job's progress
// stream.
func ProgressChannel(jobID string) string {
	return fmt.Sprintf("pinpoint:progress:%s", jobID)
}

// progressKey holds the latest event so late subscribers can catch up.
func progressKey(jobID string) string {
	return fmt.Sprintf("pinpoint:progress:latest:%s", jobID)
}

// ProgressPublisher pushes one job's progress events to Redis. Publish
// failures are logged and dropped, progress is advisory.
type ProgressPublisher struct {
	rdb    *redis.Client
	jobID  string
	logger zerolog.Logger
}

// NewProgressPublisher binds a publisher to one job.
func NewProgressPublisher(rdb *redis.Client, jobID string, logger zerolog.Logger) *ProgressPublisher {
	return &ProgressPublisher{
		rdb:    rdb,
		jobID:  jobID,
		logger: logger.With().Str("component", "progress").Str("job_id", jobID).Logger(),
	}
}

// OnProgress publishes the event and refreshes the latest-event snapshot.
func (p *ProgressPublisher) OnProgress(ev models.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn().Err(err).Msg("marshal progress event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.rdb.Publish(ctx, ProgressChannel(p.jobID), payload).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("publish progress event")
	}
	if err := p.rdb.Set(ctx, progressKey(p.jobID), payload, latestTTL).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("store latest progress")
	}
}
