package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpoint-video/worker/internal/config"
	"github.com/pinpoint-video/worker/internal/models"
	"github.com/pinpoint-video/worker/internal/search"
)

// --- fakes ---

type fakeText struct {
	mu          sync.Mutex
	fanOutErr   error
	filterErr   error
	filterIDs   []string
	rankByVideo map[string][]models.RelevantRange
	rankErr     map[string]error
	urlByVideo  map[string][]models.RelevantRange
	summary     string
	summaryErr  error
}

func (f *fakeText) FanOut(ctx context.Context, query string) (models.QueryVariants, error) {
	if f.fanOutErr != nil {
		return models.QueryVariants{}, f.fanOutErr
	}
	return models.QueryVariants{Original: query, Optimized: query + " opt", Simplified: query + " simple"}, nil
}

func (f *fakeText) RankSubtitle(ctx context.Context, userQuery string, chunks []models.SubtitleChunk) ([]models.RelevantRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chunks[0].Text
	if err := f.rankErr[key]; err != nil {
		return nil, err
	}
	return f.rankByVideo[key], nil
}

func (f *fakeText) FilterTitles(ctx context.Context, userQuery string, videos []models.Video, max int) ([]string, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	if f.filterIDs != nil {
		return f.filterIDs, nil
	}
	ids := make([]string, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.VideoID)
	}
	return ids, nil
}

func (f *fakeText) AnalyzeVideoURL(ctx context.Context, userQuery, videoURL string) ([]models.RelevantRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ranges := range f.urlByVideo {
		if videoURL == (models.Video{VideoID: id}).WatchURL() {
			return ranges, nil
		}
	}
	return nil, fmt.Errorf("no fallback result")
}

func (f *fakeText) IntegrateSummary(ctx context.Context, userQuery string, summaries []string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	if f.summary != "" {
		return f.summary, nil
	}
	return "integrated", nil
}

type fakeSearcher struct {
	videos []models.Video
}

func (f *fakeSearcher) Run(ctx context.Context, queries []string, opts search.Options) ([]models.Video, map[string]int) {
	return f.videos, map[string]int{"relevance": len(f.videos)}
}

type fakeTranscripts struct {
	// noSubtitle lists videos whose Fetch returns (nil, nil).
	noSubtitle map[string]bool
	fetchErr   map[string]error
}

func (f *fakeTranscripts) Fetch(ctx context.Context, videoID string, langs []string) (*models.Subtitle, error) {
	if err := f.fetchErr[videoID]; err != nil {
		return nil, err
	}
	if f.noSubtitle[videoID] {
		return nil, nil
	}
	return &models.Subtitle{
		VideoID:  videoID,
		Language: "en",
		Chunks:   []models.SubtitleChunk{{StartSec: 0, EndSec: 10, Text: videoID}},
	}, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	tempDir string
	failFor map[string]bool
	calls   int
}

func (f *fakeExtractor) ExtractClip(ctx context.Context, videoID, videoURL string, window models.TimeRange, outPath string) error {
	f.mu.Lock()
	f.calls++
	fail := f.failFor[videoID]
	f.mu.Unlock()
	if fail {
		return &models.ExtractionError{VideoID: videoID, Err: fmt.Errorf("range missing")}
	}
	return nil
}

func (f *fakeExtractor) TempDir() string { return f.tempDir }

type fakeVideoModel struct {
	mu       sync.Mutex
	failFor  map[string]int // clip path substring -> remaining failures
	result   models.RelevantRange
	attempts int
}

func (f *fakeVideoModel) AnalyzeClip(ctx context.Context, clipPath, userQuery string) (models.RelevantRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	for sub, remaining := range f.failFor {
		if remaining > 0 && strings.Contains(clipPath, sub) {
			f.failFor[sub] = remaining - 1
			return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: fmt.Errorf("rate limited")}
		}
	}
	return f.result, nil
}

type progressRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *progressRecorder) OnProgress(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// --- helpers ---

func testConfig() config.Config {
	cfg := config.Default()
	cfg.GeminiAPIKey = "test-key"
	cfg.StaggerDelaySec = 0
	cfg.RetryDelaySec = 0
	return cfg
}

func mustRange(t *testing.T, start, end float64) models.TimeRange {
	t.Helper()
	r, err := models.NewTimeRange(start, end)
	require.NoError(t, err)
	return r
}

func video(id string, duration float64) models.Video {
	return models.Video{VideoID: id, Title: "video " + id, DurationSec: duration}
}

// --- tests ---

func TestRunHappyPathWithoutRefinement(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.7, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.4, Summary: "s3"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "test query", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 3)

	// Ordered by confidence descending, ranges equal to transcript ranges.
	assert.Equal(t, []float64{0.9, 0.7, 0.4}, []float64{
		result.Segments[0].Confidence,
		result.Segments[1].Confidence,
		result.Segments[2].Confidence,
	})
	assert.Equal(t, mustRange(t, 10, 40), result.Segments[0].Range)
	assert.Equal(t, "integrated", result.IntegratedSummary)
	assert.Greater(t, result.ProcessingTimeSec, 0.0)
}

func TestRunMinConfidenceFilter(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false
	cfg.MinConfidence = 0.3

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.25, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, 0.9, result.Segments[0].Confidence)
	assert.Equal(t, 0.7, result.Segments[1].Confidence)
}

func TestRunRankFailureIsolatedToVideo(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
		rankErr: map[string]error{
			"v2": &models.TextModelError{Op: "rank_subtitle", Err: fmt.Errorf("boom")},
		},
	}
	recorder := &progressRecorder{}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{Progress: recorder})
	require.NoError(t, err)

	// The failing video contributes nothing, the other two are unaffected.
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "v1", result.Segments[0].Video.VideoID)
	assert.Equal(t, "v3", result.Segments[1].Video.VideoID)
	assert.Equal(t, 1, lastTranscriptCounter(recorder, "errors"))
}

func TestRunFetchFailureIsolatedAndCounted(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
	}
	recorder := &progressRecorder{}
	p, err := New(cfg, Deps{
		Text:     text,
		Searcher: &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{
			fetchErr: map[string]error{
				"v2": &models.TranscriptError{VideoID: "v2", Err: fmt.Errorf("HTTP 500")},
			},
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{Progress: recorder})
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	assert.Equal(t, "v1", result.Segments[0].Video.VideoID)
	assert.Equal(t, "v3", result.Segments[1].Video.VideoID)
	// A failed fetch is an error, not a caption-less video.
	assert.Equal(t, 1, lastTranscriptCounter(recorder, "errors"))
	assert.Equal(t, 0, lastTranscriptCounter(recorder, "no_subtitle"))
}

// lastTranscriptCounter reads one counter from the final transcript-phase
// progress event.
func lastTranscriptCounter(r *progressRecorder, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if ev.Phase != "transcript" {
			continue
		}
		if n, ok := ev.Details[key].(int); ok {
			return n
		}
	}
	return -1
}

func TestRunURLFallback(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
		},
		urlByVideo: map[string][]models.RelevantRange{
			"v2": {{Range: mustRange(t, 100, 160), Confidence: 0.8, Summary: "fallback"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 900)}},
		Transcripts: &fakeTranscripts{noSubtitle: map[string]bool{"v2": true}},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "v2", result.Segments[1].Video.VideoID)
	assert.Equal(t, mustRange(t, 100, 160), result.Segments[1].Range)
}

func TestRunURLFallbackRespectsDurationCap(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false
	cfg.URLFallbackMaxSec = 1200

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
		},
		urlByVideo: map[string][]models.RelevantRange{
			"long": {{Range: mustRange(t, 100, 160), Confidence: 0.8, Summary: "fallback"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("long", 1201)}},
		Transcripts: &fakeTranscripts{noSubtitle: map[string]bool{"long": true}},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, "v1", result.Segments[0].Video.VideoID)
}

func TestRunRefinementDegradation(t *testing.T) {
	cfg := testConfig()

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.7, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.6, Summary: "s3"}},
		},
	}
	vm := &fakeVideoModel{
		failFor: map[string]int{"v2": 3},
		result:  models.RelevantRange{Range: mustRange(t, 5, 25), Confidence: 0.95, Summary: "refined"},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Video:       vm,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
		Extractor:   &fakeExtractor{tempDir: t.TempDir()},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 3)

	assert.Equal(t, "refined", result.Segments[0].Summary)
	assert.True(t, result.Segments[1].IsDegraded())
	assert.Equal(t, models.DegradedConfidence, result.Segments[1].Confidence)
	assert.Equal(t, mustRange(t, 20, 50), result.Segments[1].Range)
	assert.Equal(t, "refined", result.Segments[2].Summary)
}

func TestRunRefinementTimeConversion(t *testing.T) {
	cfg := testConfig()
	cfg.BufferRatio = 0.2

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 864, 900), Confidence: 0.9, Summary: "s1"}},
		},
	}
	vm := &fakeVideoModel{
		result: models.RelevantRange{Range: mustRange(t, 10, 40), Confidence: 0.95, Summary: "refined"},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Video:       vm,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 3600)}},
		Transcripts: &fakeTranscripts{},
		Extractor:   &fakeExtractor{tempDir: t.TempDir()},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)

	// Fetch window [856.8, 907.2], relative (10, 40) -> absolute (866.8, 896.8).
	assert.InDelta(t, 866.8, result.Segments[0].Range.StartSec, 1e-9)
	assert.InDelta(t, 896.8, result.Segments[0].Range.EndSec, 1e-9)
}

func TestRunExtractorFailureNotRetried(t *testing.T) {
	cfg := testConfig()

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
		},
	}
	vm := &fakeVideoModel{
		result: models.RelevantRange{Range: mustRange(t, 5, 25), Confidence: 0.95, Summary: "refined"},
	}
	extractor := &fakeExtractor{tempDir: t.TempDir(), failFor: map[string]bool{"v1": true}}
	p, err := New(cfg, Deps{
		Text:        text,
		Video:       vm,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600)}},
		Transcripts: &fakeTranscripts{},
		Extractor:   extractor,
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	assert.True(t, result.Segments[0].IsDegraded())
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 0, vm.attempts)
}

func TestRunProgressMonotone(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
		},
	}
	recorder := &progressRecorder{}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "q", Sinks{Progress: recorder})
	require.NoError(t, err)
	require.NotEmpty(t, recorder.events)

	last := 0.0
	for _, ev := range recorder.events {
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
	}
	assert.Equal(t, 1.0, recorder.events[len(recorder.events)-1].Progress)
}

func TestRunEmptySearchShortCircuits(t *testing.T) {
	cfg := testConfig()
	recorder := &progressRecorder{}
	p, err := New(cfg, Deps{
		Text:        &fakeText{},
		Video:       &fakeVideoModel{},
		Searcher:    &fakeSearcher{},
		Transcripts: &fakeTranscripts{},
		Extractor:   &fakeExtractor{tempDir: t.TempDir()},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{Progress: recorder})
	require.NoError(t, err)
	assert.Empty(t, result.Segments)
	assert.Equal(t, 1.0, recorder.events[len(recorder.events)-1].Progress)
}

func TestRunFanOutFailureFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		fanOutErr: &models.TextModelError{Op: "fan_out", Err: fmt.Errorf("boom")},
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	assert.Len(t, result.Segments, 1)
}

func TestRunTitleFilterFailurePassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false
	cfg.TitleFilterMax = 2

	text := &fakeText{
		filterErr: &models.TextModelError{Op: "filter_titles", Err: fmt.Errorf("boom")},
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.8, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	// First TitleFilterMax videos survive, v3 was cut before transcripts.
	assert.Len(t, result.Segments, 2)
}

func TestRunTitleFilterDropsDuplicateIDs(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		filterIDs: []string{"v1", "v1", "v2"},
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.8, Summary: "s2"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)

	// A repeated id must not put the same video through the pipeline twice.
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "v1", result.Segments[0].Video.VideoID)
	assert.Equal(t, "v2", result.Segments[1].Video.VideoID)
}

func TestRunStaggerOverlapsAcrossWorkerSlots(t *testing.T) {
	cfg := testConfig()
	cfg.RefineWorkers = 1
	cfg.StaggerDelaySec = 0.08

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.8, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
	}
	vm := &fakeVideoModel{
		result: models.RelevantRange{Range: mustRange(t, 5, 25), Confidence: 0.95, Summary: "refined"},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Video:       vm,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
		Extractor:   &fakeExtractor{tempDir: t.TempDir()},
	}, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	result, err := p.Run(context.Background(), "q", Sinks{})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, result.Segments, 3)

	// Tasks sleep before taking a slot, so the admission delays overlap:
	// three tasks with 0/80/160ms delays finish in about 160ms, not the
	// 240ms sum a slot-holding sleep would take.
	assert.Less(t, elapsed, 230*time.Millisecond)
}

func TestRunMaxFinalResultsCap(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false
	cfg.MaxFinalResults = 2

	text := &fakeText{
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.5, Summary: "s1"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.9, Summary: "s2"}},
			"v3": {{Range: mustRange(t, 30, 60), Confidence: 0.7, Summary: "s3"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600), video("v3", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "v2", result.Segments[0].Video.VideoID)
	assert.Equal(t, "v3", result.Segments[1].Video.VideoID)
}

func TestRunCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := New(cfg, Deps{
		Text:        &fakeText{},
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Run(ctx, "q", Sinks{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSummaryFallbackBulletList(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = false

	text := &fakeText{
		summaryErr: &models.TextModelError{Op: "integrate_summary", Err: fmt.Errorf("boom")},
		rankByVideo: map[string][]models.RelevantRange{
			"v1": {{Range: mustRange(t, 10, 40), Confidence: 0.9, Summary: "first finding"}},
			"v2": {{Range: mustRange(t, 20, 50), Confidence: 0.8, Summary: "second finding"}},
		},
	}
	p, err := New(cfg, Deps{
		Text:        text,
		Searcher:    &fakeSearcher{videos: []models.Video{video("v1", 600), video("v2", 600)}},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "q", Sinks{})
	require.NoError(t, err)
	assert.Equal(t, "• first finding\n• second finding", result.IntegratedSummary)
}

func TestNewRequiresVideoModelWhenRefinementEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVLMRefinement = true

	_, err := New(cfg, Deps{
		Text:        &fakeText{},
		Searcher:    &fakeSearcher{},
		Transcripts: &fakeTranscripts{},
	}, zerolog.Nop())
	require.Error(t, err)
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
