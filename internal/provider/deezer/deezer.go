package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rdstrack/internal/remote"
	"rdstrack/internal/track"
)

// IDPrefix marks track ids that came from Deezer.
const IDPrefix = "deezer:"

// Client is a Deezer API client that implements remote.Provider.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// New creates a new Deezer client.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     "https://api.deezer.com",
	}
}

func (c *Client) Name() string { return "deezer" }

// Search queries the Deezer search API and returns matching tracks.
func (c *Client) Search(ctx context.Context, query remote.Query) ([]track.Record, error) {
	q := buildQuery(query)
	if q == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&limit=%d", c.apiURL, url.QueryEscape(q), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create deezer request: %w", err)
	}
	req.Header.Set("User-Agent", "rdstrack/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deezer search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("deezer search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode deezer response: %w", err)
	}

	if searchResp.Error != nil {
		return nil, fmt.Errorf("deezer API error: %s", searchResp.Error.Message)
	}

	return parseResults(searchResp.Data), nil
}

func buildQuery(query remote.Query) string {
	if t := strings.TrimSpace(query.Text); t != "" {
		return t
	}
	escape := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), "\"", "")
	}
	var parts []string
	if query.Title != "" {
		parts = append(parts, "track:\""+escape(query.Title)+"\"")
	}
	if query.Artist != "" {
		parts = append(parts, "artist:\""+escape(query.Artist)+"\"")
	}
	return strings.Join(parts, " ")
}

func parseResults(items []trackItem) []track.Record {
	var results []track.Record
	for _, item := range items {
		var coverURL string
		if item.Album.CoverXL != "" {
			coverURL = item.Album.CoverXL
		} else if item.Album.CoverBig != "" {
			coverURL = item.Album.CoverBig
		}

		title := item.TitleShort
		if title == "" {
			title = item.Title
		}

		rec := track.Record{
			Artist:     item.Artist.Name,
			AllArtists: []string{item.Artist.Name},
			Title:      title,
			Album:      item.Album.Title,
			DurationMs: int64(item.Duration) * 1000,
			Popularity: rankToPopularity(item.Rank),
			Explicit:   item.ExplicitLyrics,
			ISRC:       item.ISRC,
			CoverURL:   coverURL,
			SourceURL:  item.Link,
		}
		if item.ID != 0 {
			rec.ID = IDPrefix + strconv.FormatInt(item.ID, 10)
		}
		if item.Album.ID != 0 {
			rec.AlbumID = IDPrefix + strconv.FormatInt(item.Album.ID, 10)
		}
		results = append(results, rec)
	}
	return results
}

// rankToPopularity maps Deezer's rank (0..1,000,000) onto 0..100.
func rankToPopularity(rank int) int {
	p := rank / 10000
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Deezer API response types

type searchResponse struct {
	Data  []trackItem `json:"data"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type trackItem struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	TitleShort     string    `json:"title_short"`
	ISRC           string    `json:"isrc"`
	Link           string    `json:"link"`
	Duration       int       `json:"duration"`
	Rank           int       `json:"rank"`
	ExplicitLyrics bool      `json:"explicit_lyrics"`
	Artist         artist    `json:"artist"`
	Album          albumInfo `json:"album"`
}

type artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type albumInfo struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	CoverBig string `json:"cover_big"`
	CoverXL  string `json:"cover_xl"`
}
