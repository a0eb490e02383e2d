package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/config"
	"github.com/pinpoint-video/worker/internal/models"
	"github.com/pinpoint-video/worker/internal/search"
)

// Deps are the injected providers. VideoModel and Extractor may be nil when
// refinement is disabled in the config.
type Deps struct {
	Text        TextModel
	Video       VideoModel
	Searcher    Searcher
	Transcripts TranscriptProvider
	Extractor   ClipExtractor
}

// Pipeline sequences the extraction stages for one query. It is stateless
// across runs and safe to reuse.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	logger zerolog.Logger
}

// New validates the configuration and builds a pipeline.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EnableVLMRefinement && (deps.Video == nil || deps.Extractor == nil) {
		return nil, &models.ConfigError{
			Field: "enable_vlm_refinement",
			Msg:   "video model and extractor must be provided when refinement is enabled",
		}
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run executes the full pipeline. Per-stage failures degrade according to
// their documented fallbacks; only context cancellation is returned as an
// error. A successful result may contain zero segments.
func (p *Pipeline) Run(ctx context.Context, userQuery string, sinks Sinks) (*models.SearchResult, error) {
	start := time.Now()
	tracker := newProgressTracker(sinks.Progress)

	p.logger.Info().Str("query", userQuery).Msg("pipeline run started")

	// Phase 1: query fan-out.
	tracker.emit("fan_out", "optimizing query", 0.05, nil)
	variants := p.fanOut(ctx, userQuery)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracker.emit("fan_out", "query variants ready", 0.08, map[string]any{
		"optimized":  variants.Optimized,
		"simplified": variants.Simplified,
	})

	// Phase 2: multi-strategy search.
	tracker.emit("search", "searching videos", 0.10, nil)
	videos, stats := p.deps.Searcher.Run(ctx, variants.Unique(), search.Options{
		MaxTotalResults: p.cfg.MaxSearchResults,
		DurationMinSec:  p.cfg.DurationMinSec,
		DurationMaxSec:  p.cfg.DurationMaxSec,
		PublishedAfter:  parseRFC3339(p.cfg.PublishedAfter),
		PublishedBefore: parseRFC3339(p.cfg.PublishedBefore),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracker.emit("search", "search complete", 0.20, map[string]any{
		"videos": len(videos),
		"stats":  stats,
	})
	if len(videos) == 0 {
		p.logger.Warn().Msg("no videos found")
		return p.finalize(ctx, userQuery, nil, stats, start, tracker), nil
	}

	// Phase 3: title-level relevance filter.
	tracker.emit("title_filter", "filtering by title", 0.22, nil)
	videos = p.filterByTitle(ctx, userQuery, videos)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracker.emit("title_filter", "title filter complete", 0.24, map[string]any{
		"videos": len(videos),
	})

	// Phase 4: transcript analysis.
	candidates := p.runTranscriptStage(ctx, userQuery, videos, sinks, tracker)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates = topByConfidence(candidates, p.cfg.MaxFinalResults)
	if len(candidates) == 0 {
		p.logger.Warn().Msg("no candidate segments")
		return p.finalize(ctx, userQuery, nil, stats, start, tracker), nil
	}

	// Phase 5: refinement.
	var segments []models.VideoSegment
	if p.cfg.EnableVLMRefinement {
		segments = p.runRefineStage(ctx, userQuery, candidates, sinks, tracker)
	} else {
		segments = make([]models.VideoSegment, len(candidates))
		for i, c := range candidates {
			segments[i] = models.VideoSegment{
				Video:      c.Video,
				Range:      c.Range,
				Confidence: c.Confidence,
				Summary:    c.Summary,
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.finalize(ctx, userQuery, segments, stats, start, tracker), nil
}

// fanOut recovers from any text model failure by reusing the original query
// for all three variants.
func (p *Pipeline) fanOut(ctx context.Context, userQuery string) models.QueryVariants {
	variants, err := p.deps.Text.FanOut(ctx, userQuery)
	if err != nil {
		p.logger.Warn().Err(err).Msg("query fan-out failed, reusing original query")
		return models.QueryVariants{
			Original:   userQuery,
			Optimized:  userQuery,
			Simplified: userQuery,
		}
	}
	p.logger.Info().
		Str("optimized", variants.Optimized).
		Str("simplified", variants.Simplified).
		Msg("query variants generated")
	return variants
}

// filterByTitle keeps the model-selected videos in the model's order. On
// failure or an empty selection it passes through the first N inputs.
func (p *Pipeline) filterByTitle(ctx context.Context, userQuery string, videos []models.Video) []models.Video {
	max := p.cfg.TitleFilterMax

	firstN := func() []models.Video {
		if len(videos) <= max {
			return videos
		}
		return videos[:max]
	}

	ids, err := p.deps.Text.FilterTitles(ctx, userQuery, videos, max)
	if err != nil {
		p.logger.Warn().Err(err).Msg("title filter failed, passing through first videos")
		return firstN()
	}
	if len(ids) == 0 {
		p.logger.Warn().Msg("title filter selected nothing, passing through first videos")
		return firstN()
	}

	byID := make(map[string]models.Video, len(videos))
	for _, v := range videos {
		byID[v.VideoID] = v
	}
	kept := make([]models.Video, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return firstN()
	}
	p.logger.Info().Int("before", len(videos)).Int("after", len(kept)).Msg("title filter applied")
	return kept
}

// finalize computes the integrated summary, emits the terminal event and
// assembles the result.
func (p *Pipeline) finalize(ctx context.Context, userQuery string, segments []models.VideoSegment, stats map[string]int, start time.Time, tracker *progressTracker) *models.SearchResult {
	var integrated string
	if len(segments) > 0 {
		integrated = p.integrateSummary(ctx, userQuery, segments)
	}

	elapsed := time.Since(start).Seconds()
	tracker.emit("done", "complete", 1.0, map[string]any{
		"segments":            len(segments),
		"processing_time_sec": elapsed,
	})

	p.logger.Info().
		Int("segments", len(segments)).
		Float64("elapsed_sec", elapsed).
		Msg("pipeline run finished")

	return &models.SearchResult{
		Query:             userQuery,
		Segments:          segments,
		IntegratedSummary: integrated,
		SearchStats:       stats,
		ProcessingTimeSec: elapsed,
	}
}

// topByConfidence sorts candidates by confidence descending (stable, so
// discovery order breaks ties) and keeps the first max.
func topByConfidence(candidates []models.Candidate, max int) []models.Candidate {
	sorted := make([]models.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
