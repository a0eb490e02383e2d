package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	minClipBytes          = 1024
	concatCopyTimeout     = 300 * time.Second
	concatReencodeTimeout = 600 * time.Second
)

// Concat merges the clips into outPath in the given order. Files that are
// missing, smaller than 1 KiB, or lack a video stream are skipped. One valid
// file is copied; two or more go through the concat demuxer with stream
// copy, retried once with a full re-encode on codec mismatch.
func (e *Extractor) Concat(ctx context.Context, clipPaths []string, outPath string) error {
	valid := e.validClips(ctx, clipPaths)
	switch len(valid) {
	case 0:
		return fmt.Errorf("no valid clips to concatenate")
	case 1:
		return copyFile(valid[0], outPath)
	}

	manifest, err := e.writeManifest(valid)
	if err != nil {
		return err
	}
	defer os.Remove(manifest)

	copyCtx, cancel := context.WithTimeout(ctx, concatCopyTimeout)
	err = e.runConcat(copyCtx, manifest, outPath, false)
	cancel()
	if err == nil {
		return nil
	}
	e.logger.Warn().Err(err).Msg("stream-copy concat failed, retrying with re-encode")

	reencodeCtx, cancel := context.WithTimeout(ctx, concatReencodeTimeout)
	defer cancel()
	if err := e.runConcat(reencodeCtx, manifest, outPath, true); err != nil {
		return fmt.Errorf("concat re-encode failed: %w", err)
	}
	return nil
}

func (e *Extractor) validClips(ctx context.Context, paths []string) []string {
	valid := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.Size() < minClipBytes {
			e.logger.Warn().Str("clip", p).Msg("skipping missing or truncated clip")
			continue
		}
		if !e.prober.HasVideoStream(ctx, p) {
			e.logger.Warn().Str("clip", p).Msg("skipping clip without video stream")
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// writeManifest emits the concat demuxer file list. Paths are absolute and
// single-quoted, embedded quotes escaped per the demuxer's rules.
func (e *Extractor) writeManifest(paths []string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve clip path: %w", err)
		}
		fmt.Fprintf(&b, "file %s\n", quoteConcatPath(abs))
	}

	manifest := filepath.Join(e.tempDir, fmt.Sprintf("concat_%s.txt", uuid.New().String()[:8]))
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	return manifest, nil
}

func quoteConcatPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

func (e *Extractor) runConcat(ctx context.Context, manifest, outPath string, reencode bool) error {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
	}
	if reencode {
		args = append(args, "-c:v", "libx264", "-c:a", "aac", "-movflags", "+faststart")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-y", outPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, tail(output))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open clip: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy clip: %w", err)
	}
	return out.Close()
}
