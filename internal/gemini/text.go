// Package gemini implements the text and video model providers on top of
// the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/pinpoint-video/worker/internal/models"
)

const maxRankedSegments = 3

// NewClient builds a Gemini API client for the given key.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// TextModel runs all chat-completion operations of the pipeline: query
// fan-out, subtitle ranking, title filtering, URL-based video analysis and
// summary integration. Errors are wrapped in *models.TextModelError; every
// call site recovers with a documented fallback.
type TextModel struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewTextModel returns a TextModel using the named Gemini model.
func NewTextModel(client *genai.Client, model string, logger zerolog.Logger) *TextModel {
	return &TextModel{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "text_model").Logger(),
	}
}

func (m *TextModel) generate(ctx context.Context, op, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), nil)
	if err != nil {
		return "", &models.TextModelError{Op: op, Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &models.TextModelError{Op: op, Err: fmt.Errorf("empty response")}
	}
	return text, nil
}

type fanOutResponse struct {
	Optimized  string `json:"optimized"`
	Simplified string `json:"simplified"`
}

// FanOut produces the optimized and simplified query variants.
func (m *TextModel) FanOut(ctx context.Context, query string) (models.QueryVariants, error) {
	prompt := fmt.Sprintf(`You rewrite a user's video search query into two variants.

User query: %q

Return JSON only, no prose:
{"optimized": "<5-7 search tokens, domain terminology, English preferred>", "simplified": "<2-4 core tokens>"}`, query)

	raw, err := m.generate(ctx, "fan_out", prompt)
	if err != nil {
		return models.QueryVariants{}, err
	}

	var resp fanOutResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return models.QueryVariants{}, &models.TextModelError{Op: "fan_out", Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.Optimized == "" || resp.Simplified == "" {
		return models.QueryVariants{}, &models.TextModelError{Op: "fan_out", Err: fmt.Errorf("missing variant fields")}
	}

	return models.QueryVariants{
		Original:   query,
		Optimized:  resp.Optimized,
		Simplified: resp.Simplified,
	}, nil
}

// RankSubtitle scores a video's caption text against the user query and
// returns up to three relevant ranges in caption (video-absolute) seconds.
func (m *TextModel) RankSubtitle(ctx context.Context, userQuery string, chunks []models.SubtitleChunk) ([]models.RelevantRange, error) {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%.1f - %.1f] %s\n", c.StartSec, c.EndSec, c.Text)
	}

	prompt := fmt.Sprintf(`Find the passages of this transcript that answer the user's query.

User query: %q

Transcript (each line is "[start_sec - end_sec] text"):
%s

Return JSON only:
{"segments": [{"start_sec": <number>, "end_sec": <number>, "confidence": <0..1>, "summary": "<one sentence, what this span shows>"}]}

Rules: at most 3 segments, 20-120 seconds each, confidence reflects how directly the span answers the query. Return {"segments": []} when nothing is relevant.`, userQuery, b.String())

	raw, err := m.generate(ctx, "rank_subtitle", prompt)
	if err != nil {
		return nil, err
	}

	ranges, err := parseSegments(raw, maxRankedSegments)
	if err != nil {
		return nil, &models.TextModelError{Op: "rank_subtitle", Err: err}
	}
	return ranges, nil
}

type titleFilterResponse struct {
	RelevantVideoIDs []string `json:"relevant_video_ids"`
}

// FilterTitles asks the model to keep the most promising videos by title.
// Ids not present in the input are dropped, repeats keep only the first
// occurrence; the result keeps the model's order and is capped at max.
func (m *TextModel) FilterTitles(ctx context.Context, userQuery string, videos []models.Video, max int) ([]string, error) {
	var b strings.Builder
	known := make(map[string]struct{}, len(videos))
	for _, v := range videos {
		known[v.VideoID] = struct{}{}
		fmt.Fprintf(&b, "%s: %s\n", v.VideoID, v.Title)
	}

	prompt := fmt.Sprintf(`Select the videos whose title suggests they answer the user's query.

User query: %q

Videos (one "id: title" per line):
%s

Return JSON only: {"relevant_video_ids": ["<id>", ...]}
Order by relevance, best first, at most %d ids.`, userQuery, b.String(), max)

	raw, err := m.generate(ctx, "filter_titles", prompt)
	if err != nil {
		return nil, err
	}

	var resp titleFilterResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return nil, &models.TextModelError{Op: "filter_titles", Err: fmt.Errorf("parse response: %w", err)}
	}

	return selectTitleIDs(resp.RelevantVideoIDs, known, max), nil
}

// selectTitleIDs keeps known ids in model order, first occurrence only,
// capped at max.
func selectTitleIDs(ids []string, known map[string]struct{}, max int) []string {
	out := make([]string, 0, max)
	seen := make(map[string]struct{}, max)
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == max {
			break
		}
	}
	return out
}

// AnalyzeVideoURL passes the watch URL directly to the model as a video
// part. Used as the transcript fallback for caption-less videos.
func (m *TextModel) AnalyzeVideoURL(ctx context.Context, userQuery, videoURL string) ([]models.RelevantRange, error) {
	prompt := fmt.Sprintf(`Watch this video and find the spans that answer the user's query.

User query: %q

Return JSON only:
{"segments": [{"start_sec": <number>, "end_sec": <number>, "confidence": <0..1>, "summary": "<one sentence>"}]}

Rules: at most 3 segments, timestamps in seconds from the start of the video. Return {"segments": []} when nothing is relevant.`, userQuery)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(videoURL, "video/mp4"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return nil, &models.TextModelError{Op: "analyze_video_url", Err: err}
	}
	raw := resp.Text()
	if raw == "" {
		return nil, &models.TextModelError{Op: "analyze_video_url", Err: fmt.Errorf("empty response")}
	}

	ranges, err := parseSegments(raw, maxRankedSegments)
	if err != nil {
		return nil, &models.TextModelError{Op: "analyze_video_url", Err: err}
	}
	return ranges, nil
}

// IntegrateSummary merges per-segment summaries into one answer text.
func (m *TextModel) IntegrateSummary(ctx context.Context, userQuery string, summaries []string) (string, error) {
	var b strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}

	prompt := fmt.Sprintf(`Write a short integrated answer to the user's query from these video segment summaries.

User query: %q

Segment summaries:
%s

Answer in plain prose, 3-5 sentences, no preamble.`, userQuery, b.String())

	raw, err := m.generate(ctx, "integrate_summary", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
