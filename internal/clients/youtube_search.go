// Package clients holds the HTTP adapters for YouTube: the Data API v3
// search client and the timedtext transcript client.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinpoint-video/worker/internal/models"
)

const youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

// SearchOrder selects the ranking the API applies to results.
type SearchOrder string

const (
	OrderRelevance SearchOrder = "relevance"
	OrderDate      SearchOrder = "date"
)

// SearchQuery describes one search call.
type SearchQuery struct {
	Query           string
	Order           SearchOrder
	PublishedAfter  time.Time
	PublishedBefore time.Time
	MaxResults      int
	DurationMinSec  int
	DurationMaxSec  int
}

// YouTubeSearchClient finds videos via the YouTube Data API v3.
// It performs search.list for ids, then videos.list for snippet and
// contentDetails, and filters by duration client-side.
type YouTubeSearchClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewYouTubeSearchClient validates the API key and returns a client.
func NewYouTubeSearchClient(apiKey string, logger zerolog.Logger) (*YouTubeSearchClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key not set")
	}
	return &YouTubeSearchClient{
		apiKey:  apiKey,
		baseURL: youtubeAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "youtube_search").Logger(),
	}, nil
}

type searchListResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
			Thumbnails   struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Search runs one strategy call and returns duration-filtered videos.
// Failures are wrapped in *models.SearchError; callers treat a failed
// strategy as zero results.
func (c *YouTubeSearchClient) Search(ctx context.Context, q SearchQuery) ([]models.Video, error) {
	ids, err := c.searchIDs(ctx, q)
	if err != nil {
		return nil, &models.SearchError{Query: q.Query, Err: err}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	videos, err := c.listVideos(ctx, ids)
	if err != nil {
		return nil, &models.SearchError{Query: q.Query, Err: err}
	}

	filtered := make([]models.Video, 0, len(videos))
	for _, v := range videos {
		if v.DurationSec < float64(q.DurationMinSec) || v.DurationSec > float64(q.DurationMaxSec) {
			continue
		}
		filtered = append(filtered, v)
	}

	c.logger.Debug().
		Str("query", q.Query).
		Str("order", string(q.Order)).
		Int("raw", len(videos)).
		Int("kept", len(filtered)).
		Msg("search call complete")
	return filtered, nil
}

func (c *YouTubeSearchClient) searchIDs(ctx context.Context, q SearchQuery) ([]string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("type", "video")
	params.Set("q", q.Query)
	params.Set("order", string(q.Order))
	params.Set("maxResults", fmt.Sprintf("%d", q.MaxResults))
	params.Set("key", c.apiKey)
	if !q.PublishedAfter.IsZero() {
		params.Set("publishedAfter", q.PublishedAfter.UTC().Format(time.RFC3339))
	}
	if !q.PublishedBefore.IsZero() {
		params.Set("publishedBefore", q.PublishedBefore.UTC().Format(time.RFC3339))
	}

	var resp searchListResponse
	if err := c.getJSON(ctx, c.baseURL+"/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

func (c *YouTubeSearchClient) listVideos(ctx context.Context, ids []string) ([]models.Video, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", c.apiKey)

	var resp videoListResponse
	if err := c.getJSON(ctx, c.baseURL+"/videos?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	videos := make([]models.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		thumb := item.Snippet.Thumbnails.High.URL
		if thumb == "" {
			thumb = item.Snippet.Thumbnails.Medium.URL
		}
		videos = append(videos, models.Video{
			VideoID:      item.ID,
			Title:        item.Snippet.Title,
			ChannelName:  item.Snippet.ChannelTitle,
			DurationSec:  float64(ParseISO8601Duration(item.ContentDetails.Duration)),
			PublishedAt:  item.Snippet.PublishedAt,
			ThumbnailURL: thumb,
		})
	}
	return videos, nil
}

func (c *YouTubeSearchClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// ParseISO8601Duration parses periods like "PT4M13S" to seconds.
// Unparseable values yield zero, which the duration filter then drops.
func ParseISO8601Duration(duration string) int {
	if duration == "" || !strings.HasPrefix(duration, "PT") {
		return 0
	}

	duration = strings.TrimPrefix(duration, "PT")
	var hours, minutes, seconds int

	if idx := strings.Index(duration, "H"); idx != -1 {
		fmt.Sscanf(duration[:idx], "%d", &hours)
		duration = duration[idx+1:]
	}
	if idx := strings.Index(duration, "M"); idx != -1 {
		fmt.Sscanf(duration[:idx], "%d", &minutes)
		duration = duration[idx+1:]
	}
	if idx := strings.Index(duration, "S"); idx != -1 {
		fmt.Sscanf(duration[:idx], "%d", &seconds)
	}

	return hours*3600 + minutes*60 + seconds
}
