// Package pipeline implements the multi-stage segment extraction run:
// query fan-out, multi-strategy search, title filtering, parallel transcript
// analysis, parallel clip refinement and summary integration.
package pipeline

import (
	"context"

	"github.com/pinpoint-video/worker/internal/models"
	"github.com/pinpoint-video/worker/internal/search"
)

// TextModel is the chat-completion provider behind every text stage.
type TextModel interface {
	FanOut(ctx context.Context, query string) (models.QueryVariants, error)
	RankSubtitle(ctx context.Context, userQuery string, chunks []models.SubtitleChunk) ([]models.RelevantRange, error)
	FilterTitles(ctx context.Context, userQuery string, videos []models.Video, max int) ([]string, error)
	AnalyzeVideoURL(ctx context.Context, userQuery, videoURL string) ([]models.RelevantRange, error)
	IntegrateSummary(ctx context.Context, userQuery string, summaries []string) (string, error)
}

// VideoModel refines a downloaded clip's timing.
type VideoModel interface {
	AnalyzeClip(ctx context.Context, clipPath, userQuery string) (models.RelevantRange, error)
}

// Searcher runs the queries x strategies matrix.
type Searcher interface {
	Run(ctx context.Context, queries []string, opts search.Options) ([]models.Video, map[string]int)
}

// TranscriptProvider fetches caption tracks. A missing track is (nil, nil).
type TranscriptProvider interface {
	Fetch(ctx context.Context, videoID string, preferredLanguages []string) (*models.Subtitle, error)
}

// ClipExtractor downloads a fetch window into a local file.
type ClipExtractor interface {
	ExtractClip(ctx context.Context, videoID, videoURL string, window models.TimeRange, outPath string) error
	TempDir() string
}

// ProgressSink receives the per-run progress stream.
type ProgressSink interface {
	OnProgress(ev models.ProgressEvent)
}

// ClipSink is offered each extracted clip before its temp file is removed.
// index is the candidate's rank position, stable across completion order.
type ClipSink interface {
	OnClip(videoID string, index int, localPath string) error
}

// SubtitleSink is offered each fetched subtitle.
type SubtitleSink interface {
	OnSubtitle(videoID string, sub *models.Subtitle) error
}

// Sinks bundles the optional callbacks of one run. Any field may be nil.
type Sinks struct {
	Progress ProgressSink
	Clip     ClipSink
	Subtitle SubtitleSink
}
