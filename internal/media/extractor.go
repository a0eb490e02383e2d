package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/models"
)

const (
	streamResolveTimeout = 30 * time.Second
	extractBaseTimeout   = 180.0
)

// Extractor downloads a clipped byte range of a YouTube video into a local
// mp4. Stream URLs are resolved with yt-dlp, the cut is done by ffmpeg
// seeking both the video and audio input independently.
type Extractor struct {
	ffmpegPath string
	ytdlpPath  string
	prober     *Prober
	tempDir    string
	logger     zerolog.Logger
}

// NewExtractor verifies the required binaries exist and prepares tempDir.
func NewExtractor(ffmpeg, ffprobe, ytdlp, tempDir string, logger zerolog.Logger) (*Extractor, error) {
	ffmpegPath, err := exec.LookPath(ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ytdlpPath, err := exec.LookPath(ytdlp)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	prober, err := NewProber(ffprobe)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Extractor{
		ffmpegPath: ffmpegPath,
		ytdlpPath:  ytdlpPath,
		prober:     prober,
		tempDir:    tempDir,
		logger:     logger.With().Str("component", "extractor").Logger(),
	}, nil
}

// TempDir returns the directory extracted clips are written to.
func (e *Extractor) TempDir() string { return e.tempDir }

// ExtractTimeout computes the subprocess bound for a fetch window.
func ExtractTimeout(window models.TimeRange) time.Duration {
	secs := extractBaseTimeout + 0.5*window.DurationSec()
	if secs < extractBaseTimeout {
		secs = extractBaseTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

// ExtractClip downloads the fetch window of videoURL into outPath and
// validates the result. All failures are *models.ExtractionError.
func (e *Extractor) ExtractClip(ctx context.Context, videoID, videoURL string, window models.TimeRange, outPath string) error {
	streamURLs, err := e.resolveStreamURLs(ctx, videoURL)
	if err != nil {
		return &models.ExtractionError{VideoID: videoID, Err: err}
	}

	cutCtx, cancel := context.WithTimeout(ctx, ExtractTimeout(window))
	defer cancel()

	args := cutArgs(streamURLs, window, outPath)
	e.logger.Debug().
		Str("video_id", videoID).
		Str("window", window.String()).
		Int("streams", len(streamURLs)).
		Msg("extracting clip")

	cmd := exec.CommandContext(cutCtx, e.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return &models.ExtractionError{
			VideoID: videoID,
			Err:     fmt.Errorf("ffmpeg cut failed: %w: %s", err, tail(output)),
		}
	}

	if !e.prober.HasVideoStream(ctx, outPath) {
		os.Remove(outPath)
		return &models.ExtractionError{VideoID: videoID, Err: fmt.Errorf("output has no video stream")}
	}
	return nil
}

// resolveStreamURLs asks yt-dlp for the direct media URLs. The output is one
// URL per line: video then audio for split formats, a single line for muxed.
func (e *Extractor) resolveStreamURLs(ctx context.Context, videoURL string) ([]string, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, streamResolveTimeout)
	defer cancel()

	cmd := exec.CommandContext(resolveCtx, e.ytdlpPath,
		"--youtube-skip-dash-manifest",
		"-g",
		videoURL,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp stream resolution failed: %w", err)
	}

	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("yt-dlp returned no stream URLs")
	}
	return urls, nil
}

// cutArgs builds the ffmpeg invocation. With split streams both inputs are
// seeked to the window start so the HTTP range request skips the prefix.
func cutArgs(streamURLs []string, window models.TimeRange, outPath string) []string {
	start := window.FFmpegStart()
	dur := window.FFmpegDuration()

	var args []string
	if len(streamURLs) >= 2 {
		args = []string{
			"-ss", start, "-i", streamURLs[0],
			"-ss", start, "-i", streamURLs[1],
			"-t", dur,
			"-map", "0:v", "-map", "1:a",
		}
	} else {
		args = []string{
			"-ss", start, "-i", streamURLs[0],
			"-t", dur,
		}
	}
	return append(args,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-y",
		outPath,
	)
}

func tail(output []byte) string {
	const max = 512
	s := strings.TrimSpace(string(output))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
