package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/pinpoint-video/worker/internal/models"
)

const (
	fileActivePollInterval = 2 * time.Second
	fileActiveWaitMax      = 2 * time.Minute
)

// VideoModel refines a candidate's timing by analyzing the extracted clip.
// Clips are uploaded through the Files API and removed again on every path.
type VideoModel struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewVideoModel returns a VideoModel using the named Gemini model.
func NewVideoModel(client *genai.Client, model string, logger zerolog.Logger) *VideoModel {
	return &VideoModel{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "video_model").Logger(),
	}
}

// AnalyzeClip uploads the clip and asks the model for the one span inside it
// that best answers the query. The returned range is clip-relative.
func (m *VideoModel) AnalyzeClip(ctx context.Context, clipPath, userQuery string) (models.RelevantRange, error) {
	file, err := m.client.Files.UploadFromPath(ctx, clipPath, &genai.UploadFileConfig{
		MIMEType: "video/mp4",
	})
	if err != nil {
		return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: fmt.Errorf("upload: %w", err)}
	}
	defer func() {
		// Best-effort remote cleanup; the file expires server-side anyway.
		if _, derr := m.client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil); derr != nil {
			m.logger.Warn().Str("file", file.Name).Err(derr).Msg("failed to delete uploaded clip")
		}
	}()

	file, err = m.waitActive(ctx, file)
	if err != nil {
		return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: err}
	}

	prompt := fmt.Sprintf(`This clip was cut from a longer video because it may answer the user's query.

User query: %q

Identify the single span within this clip that answers the query best.
Return JSON only:
{"start_sec": <number>, "end_sec": <number>, "confidence": <0..1>, "summary": "<one sentence>"}

Timestamps are seconds from the start of this clip.`, userQuery)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: err}
	}
	raw := resp.Text()
	if raw == "" {
		return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: fmt.Errorf("empty response")}
	}

	rng, err := parseSingleSegment(raw)
	if err != nil {
		return models.RelevantRange{}, &models.VideoModelError{Path: clipPath, Err: err}
	}

	m.logger.Debug().
		Str("clip", clipPath).
		Float64("confidence", rng.Confidence).
		Str("range", rng.Range.String()).
		Msg("clip analyzed")
	return rng, nil
}

// waitActive polls the Files API until the upload finishes processing.
func (m *VideoModel) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	deadline := time.Now().Add(fileActiveWaitMax)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("file %s still processing after %s", file.Name, fileActiveWaitMax)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fileActivePollInterval):
		}
		var err error
		file, err = m.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll file state: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("file %s failed server-side processing", file.Name)
	}
	return file, nil
}
