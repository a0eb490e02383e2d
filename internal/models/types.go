package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Video is a search hit. Immutable once created by the search stage.
type Video struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelName  string    `json:"channel_name"`
	DurationSec  float64   `json:"duration_sec"`
	PublishedAt  time.Time `json:"published_at"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

// WatchURL returns the canonical watch page URL for the video.
func (v Video) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + v.VideoID
}

// SubtitleChunk is one caption cue in video-absolute seconds.
type SubtitleChunk struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Subtitle holds all caption cues for one video, sorted by start time.
type Subtitle struct {
	VideoID         string          `json:"video_id"`
	Language        string          `json:"language"`
	IsAutoGenerated bool            `json:"is_auto_generated"`
	Chunks          []SubtitleChunk `json:"chunks"`
}

// FullText joins all chunk texts with spaces.
func (s *Subtitle) FullText() string {
	parts := make([]string, 0, len(s.Chunks))
	for _, c := range s.Chunks {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

// QueryVariants are the three search queries produced by fan-out.
type QueryVariants struct {
	Original   string `json:"original"`
	Optimized  string `json:"optimized"`
	Simplified string `json:"simplified"`
}

// Unique returns the variants deduplicated, preserving first occurrence.
func (q QueryVariants) Unique() []string {
	seen := make(map[string]struct{}, 3)
	out := make([]string, 0, 3)
	for _, v := range []string{q.Original, q.Optimized, q.Simplified} {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RelevantRange is one model-scored span with its summary.
type RelevantRange struct {
	Range      TimeRange `json:"range"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary"`
}

// Candidate is a pre-refinement match: a video plus one scored range.
type Candidate struct {
	Video      Video     `json:"video"`
	Range      TimeRange `json:"range"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary"`
}

// VideoSegment is the terminal output unit. Range is video-absolute.
type VideoSegment struct {
	Video      Video     `json:"video"`
	Range      TimeRange `json:"range"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary"`
}

// DegradedSummary marks a segment whose refinement failed after retries.
// Such segments carry the original candidate range and confidence 0.5.
const DegradedSummary = "refinement failed; showing transcript-based segment"

// DegradedConfidence is the confidence assigned to degraded segments.
const DegradedConfidence = 0.5

// IsDegraded reports whether the segment fell back to its unrefined range.
func (s VideoSegment) IsDegraded() bool {
	return s.Summary == DegradedSummary
}

// SearchResult is the terminal output of one pipeline run.
type SearchResult struct {
	Query             string         `json:"query"`
	Segments          []VideoSegment `json:"segments"`
	IntegratedSummary string         `json:"integrated_summary,omitempty"`
	SearchStats       map[string]int `json:"search_stats,omitempty"`
	ProcessingTimeSec float64        `json:"processing_time_sec"`
}

// ProgressEvent is one entry in the per-run progress stream.
// Progress values are non-decreasing within a run; the terminal event is 1.0.
type ProgressEvent struct {
	Phase    string         `json:"phase"`
	Step     string         `json:"step"`
	Progress float64        `json:"progress"`
	Details  map[string]any `json:"details,omitempty"`
}

// SearchJob is the queue payload for one search run.
type SearchJob struct {
	JobID      string    `json:"job_id"`
	Query      string    `json:"query"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

// NewJobID generates a unique job ID.
func NewJobID() string {
	return uuid.New().String()
}

// NewClipName generates a unique temp clip filename for a video.
func NewClipName(videoID string) string {
	return fmt.Sprintf("clip_%s_%s.mp4", videoID, uuid.New().String()[:8])
}
