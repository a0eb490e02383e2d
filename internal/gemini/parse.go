package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pinpoint-video/worker/internal/models"
)

// stripCodeFence removes a surrounding markdown code fence, if any. The
// model frequently wraps JSON in ```json blocks despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		// Drop the language tag line (```json).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type segmentJSON struct {
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

type segmentsResponse struct {
	Segments []segmentJSON `json:"segments"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseSegments decodes a {"segments":[...]} response into ranges, dropping
// entries with end <= start or start < 0 and capping the list at max.
func parseSegments(raw string, max int) ([]models.RelevantRange, error) {
	var resp segmentsResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return nil, fmt.Errorf("parse segments json: %w", err)
	}

	out := make([]models.RelevantRange, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		r, err := models.NewTimeRange(s.StartSec, s.EndSec)
		if err != nil {
			continue
		}
		out = append(out, models.RelevantRange{
			Range:      r,
			Confidence: clamp01(s.Confidence),
			Summary:    s.Summary,
		})
		if len(out) == max {
			break
		}
	}
	return out, nil
}

// parseSingleSegment decodes one refinement response. The model may answer
// with either a bare segment object or a one-element segments list.
func parseSingleSegment(raw string) (models.RelevantRange, error) {
	cleaned := stripCodeFence(raw)

	var single segmentJSON
	if err := json.Unmarshal([]byte(cleaned), &single); err == nil {
		if r, rerr := models.NewTimeRange(single.StartSec, single.EndSec); rerr == nil {
			return models.RelevantRange{
				Range:      r,
				Confidence: clamp01(single.Confidence),
				Summary:    single.Summary,
			}, nil
		}
	}

	ranges, err := parseSegments(cleaned, 1)
	if err != nil {
		return models.RelevantRange{}, err
	}
	if len(ranges) == 0 {
		return models.RelevantRange{}, fmt.Errorf("no usable segment in response")
	}
	return ranges[0], nil
}
