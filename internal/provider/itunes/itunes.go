package itunes

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

// IDPrefix marks track ids that came from iTunes.
const IDPrefix = "itunes:"

// Client is an iTunes Search API client that implements remote.Provider.
type Client struct {
	httpClient *http.Client
	apiURL     string
	country    string
}

// New creates a new iTunes client.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     "https://itunes.apple.com/search",
		country:    "DE",
	}
}

func (c *Client) Name() string { return "itunes" }

// Search queries the iTunes Search API and returns matching tracks.
func (c *Client) Search(ctx context.Context, query remote.Query) ([]track.Record, error) {
	term := query.Terms()
	if term == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("media", "music")
	params.Set("entity", "song")
	params.Set("limit", strconv.Itoa(limit))
	if c.country != "" {
		params.Set("country", c.country)
	}

	reqURL := fmt.Sprintf("%s?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create itunes request: %w", err)
	}
	req.Header.Set("User-Agent", "rdstrack/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("itunes search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("itunes search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode itunes response: %w", err)
	}

	return parseResults(searchResp.Results), nil
}

func parseResults(items []resultItem) []track.Record {
	var results []track.Record
	for _, item := range items {
		coverURL := item.ArtworkURL100
		// Upgrade to 600x600 artwork
		if coverURL != "" {
			coverURL = strings.Replace(coverURL, "100x100", "600x600", 1)
		}

		rec := track.Record{
			Artist:      item.ArtistName,
			AllArtists:  []string{item.ArtistName},
			Title:       item.TrackName,
			Album:       item.CollectionName,
			DurationMs:  item.TrackTimeMillis,
			Explicit:    item.TrackExplicitness == "explicit",
			TrackNumber: item.TrackNumber,
			DiscNumber:  item.DiscNumber,
			CoverURL:    coverURL,
			SourceURL:   item.TrackViewURL,
		}
		if item.TrackID != 0 {
			rec.ID = IDPrefix + strconv.FormatInt(item.TrackID, 10)
		}
		if item.CollectionID != 0 {
			rec.AlbumID = IDPrefix + strconv.FormatInt(item.CollectionID, 10)
		}
		// "2000-07-10T07:00:00Z" -> "2000-07-10"
		if len(item.ReleaseDate) >= 10 {
			rec.ReleaseDate = item.ReleaseDate[:10]
		} else {
			rec.ReleaseDate = item.ReleaseDate
		}

		results = append(results, rec)
	}
	return results
}

// iTunes Search API response types

type searchResponse struct {
	ResultCount int          `json:"resultCount"`
	Results     []resultItem `json:"results"`
}

type resultItem struct {
	TrackID           int64  `json:"trackId"`
	CollectionID      int64  `json:"collectionId"`
	TrackName         string `json:"trackName"`
	ArtistName        string `json:"artistName"`
	CollectionName    string `json:"collectionName"`
	TrackNumber       int    `json:"trackNumber"`
	DiscNumber        int    `json:"discNumber"`
	TrackTimeMillis   int64  `json:"trackTimeMillis"`
	TrackExplicitness string `json:"trackExplicitness"`
	TrackViewURL      string `json:"trackViewUrl"`
	ArtworkURL100     string `json:"artworkUrl100"`
	ReleaseDate       string `json:"releaseDate"`
}
