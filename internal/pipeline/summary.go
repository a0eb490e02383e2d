package pipeline

import (
	"context"
	"strings"

	"github.com/pinpoint-video/worker/internal/models"
)

// integrateSummary merges per-segment summaries into one answer. A text
// model failure falls back to a bullet list, so callers always get text.
func (p *Pipeline) integrateSummary(ctx context.Context, userQuery string, segments []models.VideoSegment) string {
	summaries := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Summary != "" {
			summaries = append(summaries, s.Summary)
		}
	}
	if len(summaries) == 0 {
		return ""
	}

	integrated, err := p.deps.Text.IntegrateSummary(ctx, userQuery, summaries)
	if err == nil && integrated != "" {
		return integrated
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("summary integration failed, using bullet list")
	}

	var b strings.Builder
	for _, s := range summaries {
		b.WriteString("• ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
