package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pinpoint-video/worker/internal/models"
)

// Refinement stage progress spans 0.60 to 0.95.
const (
	refineBandStart = 0.60
	refineBandWidth = 0.35
)

// runRefineStage turns every candidate into a segment. Tasks run on a pool
// of min(RefineWorkers, N) workers with staggered admission: task i sleeps
// i*stagger before requesting a worker slot, which spreads the video model
// calls without blocking the pool. Every task yields a segment, degraded if
// extraction or analysis fails, so the output length always equals the
// candidate count.
func (p *Pipeline) runRefineStage(ctx context.Context, userQuery string, candidates []models.Candidate, sinks Sinks, tracker *progressTracker) []models.VideoSegment {
	total := len(candidates)
	tracker.emit("refine", "refining segments", refineBandStart, map[string]any{
		"candidates": total,
	})

	workers := p.cfg.RefineWorkers
	if workers > total {
		workers = total
	}

	segments := make([]models.VideoSegment, total)
	semaphore := make(chan struct{}, workers)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, candidate := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if !sleepCtx(ctx, time.Duration(i)*p.cfg.StaggerDelay()) {
				segments[i] = degradedSegment(candidate)
				return
			}

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			segments[i] = p.refineCandidate(ctx, userQuery, i, candidate, sinks)

			mu.Lock()
			completed++
			progress := refineBandStart + refineBandWidth*float64(completed)/float64(total)
			done := completed
			mu.Unlock()
			tracker.emit("refine", "refining segments", progress, map[string]any{
				"completed": done,
				"total":     total,
			})
		}()
	}
	wg.Wait()

	// segments is keyed by task index, so the confidence-desc candidate
	// order survives any completion order.
	return segments
}

// refineCandidate runs extract -> analyze -> convert for one candidate.
// Extraction failures are not retried; the video model call retries with
// linear backoff. Exhausted retries degrade to the unrefined range.
func (p *Pipeline) refineCandidate(ctx context.Context, userQuery string, index int, candidate models.Candidate, sinks Sinks) models.VideoSegment {
	video := candidate.Video
	window := candidate.Range.WithBuffer(p.cfg.BufferRatio)
	clipPath := filepath.Join(p.deps.Extractor.TempDir(), models.NewClipName(video.VideoID))
	defer os.Remove(clipPath)

	logger := p.logger.With().Str("video_id", video.VideoID).Logger()
	logger.Info().
		Str("candidate", candidate.Range.String()).
		Str("window", window.String()).
		Msg("refining candidate")

	if err := p.deps.Extractor.ExtractClip(ctx, video.VideoID, video.WatchURL(), window, clipPath); err != nil {
		logger.Error().Err(err).Msg("clip extraction failed, emitting degraded segment")
		return degradedSegment(candidate)
	}

	if sinks.Clip != nil {
		defer func() {
			if err := sinks.Clip.OnClip(video.VideoID, index, clipPath); err != nil {
				logger.Warn().Err(err).Msg("clip sink failed")
			}
		}()
	}

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if !sleepCtx(ctx, time.Duration(attempt)*p.cfg.RetryDelay()) {
			break
		}

		rng, err := p.deps.Video.AnalyzeClip(ctx, clipPath, userQuery)
		if err != nil {
			logger.Warn().Int("attempt", attempt+1).Err(err).Msg("video model analysis failed")
			continue
		}

		absolute := models.ConvertToAbsolute(window.StartSec, rng.Range)
		logger.Info().
			Str("refined", absolute.String()).
			Float64("confidence", rng.Confidence).
			Msg("candidate refined")
		return models.VideoSegment{
			Video:      video,
			Range:      absolute,
			Confidence: rng.Confidence,
			Summary:    rng.Summary,
		}
	}

	logger.Error().Msg("video model retries exhausted, emitting degraded segment")
	return degradedSegment(candidate)
}

func degradedSegment(candidate models.Candidate) models.VideoSegment {
	return models.VideoSegment{
		Video:      candidate.Video,
		Range:      candidate.Range,
		Confidence: models.DegradedConfidence,
		Summary:    models.DegradedSummary,
	}
}

// sleepCtx waits for d unless the context ends first. Returns false when
// the wait was interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
