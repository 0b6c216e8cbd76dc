package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"rdstrack/internal/remote"
	"rdstrack/internal/track"
)

const defaultLimit = 5

// Client is a Spotify Web API client that implements remote.Provider.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Overridable for testing
	tokenURL string
	apiURL   string
}

// New creates a new Spotify client.
func New(clientID, clientSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		tokenURL:     "https://accounts.spotify.com/api/token",
		apiURL:       "https://api.spotify.com/v1",
	}
}

func (c *Client) Name() string { return "spotify" }

// Search queries the Spotify search API and returns matching tracks.
func (c *Client) Search(ctx context.Context, query remote.Query) ([]track.Record, error) {
	q := buildSearchQuery(query)
	if q == "" {
		return nil, nil
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify auth failed: %w", err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > 50 {
		limit = 50
	}

	reqURL := fmt.Sprintf("%s/search?type=track&limit=%d&q=%s", c.apiURL, limit, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("spotify search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode spotify response: %w", err)
	}

	return parseSearchResults(searchResp), nil
}

func buildSearchQuery(query remote.Query) string {
	if t := strings.TrimSpace(query.Text); t != "" {
		return t
	}
	var parts []string
	if t := strings.TrimSpace(query.Title); t != "" {
		parts = append(parts, "track:"+t)
	}
	if a := strings.TrimSpace(query.Artist); a != "" {
		parts = append(parts, "artist:"+a)
	}
	return strings.Join(parts, " ")
}

// getToken returns a valid access token, refreshing if necessary.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	// Refresh a bit early to avoid edge-case expiry
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return c.accessToken, nil
}

// doWithRetry executes the request, retrying once on 429.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}

		ctx := req.Context()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(retryAfter) * time.Second):
		}

		return c.httpClient.Do(req.Clone(ctx))
	}

	return resp, nil
}

func parseSearchResults(resp searchResponse) []track.Record {
	var results []track.Record
	for _, item := range resp.Tracks.Items {
		var artists []string
		for _, a := range item.Artists {
			artists = append(artists, a.Name)
		}
		var lead string
		if len(artists) > 0 {
			lead = artists[0]
		}

		var coverURL string
		if len(item.Album.Images) > 0 {
			coverURL = item.Album.Images[0].URL
		}

		results = append(results, track.Record{
			ID:          item.ID,
			Artist:      lead,
			AllArtists:  artists,
			Title:       item.Name,
			Album:       item.Album.Name,
			AlbumID:     item.Album.ID,
			DurationMs:  item.DurationMs,
			Popularity:  item.Popularity,
			Explicit:    item.Explicit,
			TrackNumber: item.TrackNumber,
			DiscNumber:  item.DiscNumber,
			ISRC:        item.ExternalIDs.ISRC,
			ReleaseDate: item.Album.ReleaseDate,
			CoverURL:    coverURL,
			SourceURL:   item.ExternalURLs.Spotify,
		})
	}
	return results
}

// Spotify API response types

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type trackItem struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Artists      []artist    `json:"artists"`
	Album        albumInfo   `json:"album"`
	TrackNumber  int         `json:"track_number"`
	DiscNumber   int         `json:"disc_number"`
	DurationMs   int64       `json:"duration_ms"`
	Popularity   int         `json:"popularity"`
	Explicit     bool        `json:"explicit"`
	ExternalIDs  externalID  `json:"external_ids"`
	ExternalURLs externalURL `json:"external_urls"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type albumInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ReleaseDate string  `json:"release_date"`
	Images      []image `json:"images"`
}

type image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type externalID struct {
	ISRC string `json:"isrc"`
}

type externalURL struct {
	Spotify string `json:"spotify"`
}
