package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ClipCollector saves refined clips out of their short-lived temp files and
// merges them into one digest video. OnClip copies, so it is safe against
// the pipeline removing the source right after the sink returns.
type ClipCollector struct {
	extractor *Extractor
	dir       string
	logger    zerolog.Logger

	mu    sync.Mutex
	clips []collectedClip
}

type collectedClip struct {
	videoID string
	index   int
	path    string
}

// NewClipCollector creates the per-job clip directory.
func NewClipCollector(extractor *Extractor, dir string, logger zerolog.Logger) (*ClipCollector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	return &ClipCollector{
		extractor: extractor,
		dir:       dir,
		logger:    logger.With().Str("component", "clip_collector").Logger(),
	}, nil
}

// OnClip copies the clip into the collector directory. index is the clip's
// rank position and fixes the merge order.
func (c *ClipCollector) OnClip(videoID string, index int, localPath string) error {
	dst := filepath.Join(c.dir, filepath.Base(localPath))
	if err := copyFile(localPath, dst); err != nil {
		return fmt.Errorf("save clip for %s: %w", videoID, err)
	}

	c.mu.Lock()
	c.clips = append(c.clips, collectedClip{videoID: videoID, index: index, path: dst})
	c.mu.Unlock()

	c.logger.Info().Str("video_id", videoID).Int("index", index).Str("path", dst).Msg("clip saved")
	return nil
}

// Clips returns the saved clip paths sorted by (video id, index), so the
// merge order is stable regardless of which worker finished first.
func (c *ClipCollector) Clips() []string {
	c.mu.Lock()
	sorted := make([]collectedClip, len(c.clips))
	copy(sorted, c.clips)
	c.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].videoID != sorted[j].videoID {
			return sorted[i].videoID < sorted[j].videoID
		}
		return sorted[i].index < sorted[j].index
	})
	out := make([]string, len(sorted))
	for i, clip := range sorted {
		out[i] = clip.path
	}
	return out
}

// Merge concatenates the saved clips into outPath. With no saved clips it
// is a no-op.
func (c *ClipCollector) Merge(ctx context.Context, outPath string) error {
	clips := c.Clips()
	if len(clips) == 0 {
		return nil
	}
	if err := c.extractor.Concat(ctx, clips, outPath); err != nil {
		return fmt.Errorf("merge %d clips: %w", len(clips), err)
	}
	c.logger.Info().Int("clips", len(clips)).Str("path", outPath).Msg("digest video written")
	return nil
}
