package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pinpoint-video/worker/internal/models"
)

// Transcript stage progress spans 0.25 to 0.55.
const (
	transcriptBandStart = 0.25
	transcriptBandWidth = 0.30
	progressEvery       = 10
)

type taskOutcome int

const (
	outcomeSuccess taskOutcome = iota
	outcomeNoMatch
	outcomeNoSubtitle
	outcomeError
)

// runTranscriptStage processes every video on a bounded worker pool. Each
// task fetches the subtitle, asks the text model for relevant ranges and
// filters by confidence; caption-less videos take the URL-fallback path.
// Task failures are swallowed, the stage always returns.
func (p *Pipeline) runTranscriptStage(ctx context.Context, userQuery string, videos []models.Video, sinks Sinks, tracker *progressTracker) []models.Candidate {
	total := len(videos)
	tracker.emit("transcript", "analyzing transcripts", transcriptBandStart, map[string]any{
		"videos": total,
	})

	results := make([][]models.Candidate, total)
	var (
		mu        sync.Mutex
		completed int
		counters  = map[string]int{"success": 0, "no_match": 0, "no_subtitle": 0, "errors": 0}
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.TranscriptWorkers)

	for i, video := range videos {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TranscriptTimeout())
			candidates, outcome := p.processVideo(taskCtx, userQuery, video, sinks)
			cancel()

			mu.Lock()
			results[i] = candidates
			switch outcome {
			case outcomeSuccess:
				counters["success"]++
			case outcomeNoMatch:
				counters["no_match"]++
			case outcomeNoSubtitle:
				counters["no_subtitle"]++
			case outcomeError:
				counters["errors"]++
			}
			completed++
			if completed%progressEvery == 0 || completed == total {
				progress := transcriptBandStart + transcriptBandWidth*float64(completed)/float64(total)
				details := map[string]any{
					"completed":   completed,
					"total":       total,
					"success":     counters["success"],
					"no_match":    counters["no_match"],
					"no_subtitle": counters["no_subtitle"],
					"errors":      counters["errors"],
				}
				mu.Unlock()
				tracker.emit("transcript", "analyzing transcripts", progress, details)
				return nil
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var candidates []models.Candidate
	for _, r := range results {
		candidates = append(candidates, r...)
	}

	p.logger.Info().
		Int("videos", total).
		Int("candidates", len(candidates)).
		Int("success", counters["success"]).
		Int("no_match", counters["no_match"]).
		Int("no_subtitle", counters["no_subtitle"]).
		Int("errors", counters["errors"]).
		Msg("transcript stage complete")
	return candidates
}

// processVideo yields the candidates of one video. It never returns an
// error; failures map to an outcome counter.
func (p *Pipeline) processVideo(ctx context.Context, userQuery string, video models.Video, sinks Sinks) ([]models.Candidate, taskOutcome) {
	subtitle, err := p.deps.Transcripts.Fetch(ctx, video.VideoID, p.cfg.PreferredLanguages)
	if err != nil {
		p.logger.Warn().Str("video_id", video.VideoID).Err(err).Msg("transcript fetch failed")
		// Still worth trying the URL path, but the video counts as a
		// fetch error unless that path actually succeeds.
		if candidates, outcome := p.urlFallback(ctx, userQuery, video); outcome == outcomeSuccess {
			return candidates, outcome
		}
		return nil, outcomeError
	}
	if subtitle == nil {
		return p.urlFallback(ctx, userQuery, video)
	}

	if sinks.Subtitle != nil {
		if serr := sinks.Subtitle.OnSubtitle(video.VideoID, subtitle); serr != nil {
			p.logger.Warn().Str("video_id", video.VideoID).Err(serr).Msg("subtitle sink failed")
		}
	}

	ranges, err := p.deps.Text.RankSubtitle(ctx, userQuery, subtitle.Chunks)
	if err != nil {
		p.logger.Warn().Str("video_id", video.VideoID).Err(err).Msg("subtitle ranking failed")
		return nil, outcomeError
	}

	candidates := p.toCandidates(video, ranges)
	if len(candidates) == 0 {
		return nil, outcomeNoMatch
	}
	return candidates, outcomeSuccess
}

// urlFallback analyzes the watch URL directly for caption-less videos that
// fit under the duration cap. Errors are swallowed.
func (p *Pipeline) urlFallback(ctx context.Context, userQuery string, video models.Video) ([]models.Candidate, taskOutcome) {
	if !p.cfg.EnableURLFallback || video.DurationSec > p.cfg.URLFallbackMaxSec {
		return nil, outcomeNoSubtitle
	}

	ranges, err := p.deps.Text.AnalyzeVideoURL(ctx, userQuery, video.WatchURL())
	if err != nil {
		p.logger.Warn().Str("video_id", video.VideoID).Err(err).Msg("url fallback failed")
		return nil, outcomeNoSubtitle
	}

	candidates := p.toCandidates(video, ranges)
	if len(candidates) == 0 {
		return nil, outcomeNoSubtitle
	}
	p.logger.Info().
		Str("video_id", video.VideoID).
		Int("candidates", len(candidates)).
		Msg("url fallback produced candidates")
	return candidates, outcomeSuccess
}

// toCandidates applies the confidence floor.
func (p *Pipeline) toCandidates(video models.Video, ranges []models.RelevantRange) []models.Candidate {
	candidates := make([]models.Candidate, 0, len(ranges))
	for _, r := range ranges {
		if r.Confidence < p.cfg.MinConfidence {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Video:      video,
			Range:      r.Range,
			Confidence: r.Confidence,
			Summary:    r.Summary,
		})
	}
	return candidates
}
