// Package search runs the queries x strategies search matrix and merges
// the results by video identity.
package search

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/clients"
	"github.com/pinpoint-video/worker/internal/models"
)

// recentWindow bounds the publishedAfter strategy to the last 30 days.
const recentWindow = 30 * 24 * time.Hour

// Strategy names used as search_stats keys.
const (
	StrategyRelevance = "relevance"
	StrategyDate      = "date"
	StrategyRecent    = "recent"
)

// Provider runs one search call.
type Provider interface {
	Search(ctx context.Context, q clients.SearchQuery) ([]models.Video, error)
}

// Options configures one multi-search run.
type Options struct {
	// MaxTotalResults is split evenly across the three strategies.
	MaxTotalResults int
	DurationMinSec  int
	DurationMaxSec  int
	PublishedAfter  time.Time
	PublishedBefore time.Time
}

// Multi fans each query out over three strategies: relevance order, date
// order, and relevance restricted to recent uploads.
type Multi struct {
	provider Provider
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMulti returns a multi-strategy searcher.
func NewMulti(provider Provider, logger zerolog.Logger) *Multi {
	return &Multi{
		provider: provider,
		logger:   logger.With().Str("component", "search").Logger(),
		now:      time.Now,
	}
}

// Run executes all queries x strategies calls, merging by video id with
// first occurrence winning. A failed strategy contributes zero results and
// never aborts the run. The returned stats count hits per strategy across
// all calls.
func (m *Multi) Run(ctx context.Context, queries []string, opts Options) ([]models.Video, map[string]int) {
	perCall := opts.MaxTotalResults / 3
	if perCall < 1 {
		perCall = 1
	}

	// One timestamp for the whole run so every recent-strategy call sees
	// the same window.
	recentCutoff := m.now().UTC().Add(-recentWindow)

	base := clients.SearchQuery{
		MaxResults:      perCall,
		DurationMinSec:  opts.DurationMinSec,
		DurationMaxSec:  opts.DurationMaxSec,
		PublishedAfter:  opts.PublishedAfter,
		PublishedBefore: opts.PublishedBefore,
	}

	strategies := []struct {
		name  string
		shape func(q clients.SearchQuery) clients.SearchQuery
	}{
		{StrategyRelevance, func(q clients.SearchQuery) clients.SearchQuery {
			q.Order = clients.OrderRelevance
			return q
		}},
		{StrategyDate, func(q clients.SearchQuery) clients.SearchQuery {
			q.Order = clients.OrderDate
			return q
		}},
		{StrategyRecent, func(q clients.SearchQuery) clients.SearchQuery {
			q.Order = clients.OrderRelevance
			q.PublishedAfter = recentCutoff
			return q
		}},
	}

	stats := map[string]int{
		StrategyRelevance: 0,
		StrategyDate:      0,
		StrategyRecent:    0,
	}
	seen := make(map[string]struct{})
	var merged []models.Video

	for _, query := range queries {
		for _, strat := range strategies {
			if ctx.Err() != nil {
				return merged, stats
			}

			q := strat.shape(base)
			q.Query = query

			videos, err := m.provider.Search(ctx, q)
			if err != nil {
				m.logger.Warn().
					Str("query", query).
					Str("strategy", strat.name).
					Err(err).
					Msg("strategy failed, treating as zero results")
				continue
			}

			stats[strat.name] += len(videos)
			for _, v := range videos {
				if _, ok := seen[v.VideoID]; ok {
					continue
				}
				seen[v.VideoID] = struct{}{}
				merged = append(merged, v)
			}
		}
	}

	m.logger.Info().
		Int("queries", len(queries)).
		Int("unique_videos", len(merged)).
		Interface("stats", stats).
		Msg("search matrix complete")
	return merged, stats
}
