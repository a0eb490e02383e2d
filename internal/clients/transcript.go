package clients

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/models"
)

const timedtextBase = "https://www.youtube.com/api/timedtext"

// TranscriptClient fetches caption tracks from the YouTube timedtext
// endpoint. A video with no caption track in any preferred language yields
// (nil, nil); only transport faults are errors.
type TranscriptClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTranscriptClient returns a transcript client.
func NewTranscriptClient(logger zerolog.Logger) *TranscriptClient {
	return &TranscriptClient{
		baseURL: timedtextBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "transcript").Logger(),
	}
}

type trackList struct {
	Tracks []trackInfo `xml:"track"`
}

type trackInfo struct {
	LangCode string `xml:"lang_code,attr"`
	Name     string `xml:"name,attr"`
	Kind     string `xml:"kind,attr"`
}

type transcriptXML struct {
	Texts []transcriptText `xml:"text"`
}

type transcriptText struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
	Body  string  `xml:",chardata"`
}

// Fetch returns the caption track for the first preferred language that has
// one, preferring manual tracks over auto-generated (kind=asr) ones.
func (c *TranscriptClient) Fetch(ctx context.Context, videoID string, preferredLanguages []string) (*models.Subtitle, error) {
	tracks, err := c.listTracks(ctx, videoID)
	if err != nil {
		return nil, &models.TranscriptError{VideoID: videoID, Err: err}
	}
	if len(tracks) == 0 {
		c.logger.Debug().Str("video_id", videoID).Msg("no caption tracks")
		return nil, nil
	}

	track, ok := pickTrack(tracks, preferredLanguages)
	if !ok {
		c.logger.Debug().
			Str("video_id", videoID).
			Strs("preferred", preferredLanguages).
			Msg("no caption track in preferred languages")
		return nil, nil
	}

	chunks, err := c.fetchTrack(ctx, videoID, track)
	if err != nil {
		return nil, &models.TranscriptError{VideoID: videoID, Err: err}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].StartSec < chunks[j].StartSec
	})

	c.logger.Debug().
		Str("video_id", videoID).
		Str("lang", track.LangCode).
		Bool("auto", track.Kind == "asr").
		Int("chunks", len(chunks)).
		Msg("fetched transcript")

	return &models.Subtitle{
		VideoID:         videoID,
		Language:        track.LangCode,
		IsAutoGenerated: track.Kind == "asr",
		Chunks:          chunks,
	}, nil
}

// pickTrack selects the first preferred language with a track; within one
// language a manual track beats an ASR track.
func pickTrack(tracks []trackInfo, preferred []string) (trackInfo, bool) {
	for _, lang := range preferred {
		var asr *trackInfo
		for i := range tracks {
			t := tracks[i]
			if !strings.EqualFold(baseLang(t.LangCode), lang) {
				continue
			}
			if t.Kind != "asr" {
				return t, true
			}
			if asr == nil {
				asr = &tracks[i]
			}
		}
		if asr != nil {
			return *asr, true
		}
	}
	return trackInfo{}, false
}

func baseLang(code string) string {
	if idx := strings.IndexByte(code, '-'); idx != -1 {
		return code[:idx]
	}
	return code
}

func (c *TranscriptClient) listTracks(ctx context.Context, videoID string) ([]trackInfo, error) {
	params := url.Values{}
	params.Set("type", "list")
	params.Set("v", videoID)

	body, err := c.get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var list trackList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse track list: %w", err)
	}
	return list.Tracks, nil
}

func (c *TranscriptClient) fetchTrack(ctx context.Context, videoID string, track trackInfo) ([]models.SubtitleChunk, error) {
	params := url.Values{}
	params.Set("v", videoID)
	params.Set("lang", track.LangCode)
	if track.Name != "" {
		params.Set("name", track.Name)
	}
	if track.Kind != "" {
		params.Set("kind", track.Kind)
	}

	body, err := c.get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var doc transcriptXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}

	chunks := make([]models.SubtitleChunk, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		text := strings.TrimSpace(html.UnescapeString(t.Body))
		if text == "" {
			continue
		}
		chunks = append(chunks, models.SubtitleChunk{
			StartSec: t.Start,
			EndSec:   t.Start + t.Dur,
			Text:     text,
		})
	}
	return chunks, nil
}

func (c *TranscriptClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
