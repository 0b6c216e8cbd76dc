package musicbrainz

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

	"golang.org/x/time/rate"

	"rdstrack/internal/remote"
	"rdstrack/internal/track"
)

// IDPrefix marks recording ids that came from MusicBrainz.
const IDPrefix = "mb:"

// Client is a MusicBrainz Web API client that implements remote.Provider.
type Client struct {
	httpClient *http.Client
	apiURL     string
	limiter    *rate.Limiter
}

// New creates a new MusicBrainz client limited to one request per second.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     "https://musicbrainz.org/ws/2",
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (c *Client) Name() string { return "musicbrainz" }

// Search queries the MusicBrainz recording search API and returns matching tracks.
func (c *Client) Search(ctx context.Context, query remote.Query) ([]track.Record, error) {
	q := buildQuery(query)
	if q == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("musicbrainz rate limit: %w", err)
	}

	reqURL := fmt.Sprintf("%s/recording?query=%s&fmt=json&limit=%d", c.apiURL, url.QueryEscape(q), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create musicbrainz request: %w", err)
	}
	req.Header.Set("User-Agent", "rdstrack/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("musicbrainz search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("musicbrainz search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode musicbrainz response: %w", err)
	}

	return parseRecordings(searchResp.Recordings), nil
}

// doWithRetry executes the request, retrying once on 429/503 with backoff.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		retryAfter := 2
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(retryAfter) * time.Second):
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.httpClient.Do(req.Clone(ctx))
	}

	return resp, nil
}

func buildQuery(query remote.Query) string {
	if t := strings.TrimSpace(query.Text); t != "" {
		return t
	}
	var parts []string
	if t := strings.TrimSpace(query.Title); t != "" {
		parts = append(parts, fmt.Sprintf("recording:%q", t))
	}
	if a := strings.TrimSpace(query.Artist); a != "" {
		parts = append(parts, fmt.Sprintf("artist:%q", a))
	}
	return strings.Join(parts, " AND ")
}

func parseRecordings(recordings []recording) []track.Record {
	var results []track.Record
	for _, rec := range recordings {
		artists := artistNames(rec.ArtistCredit)
		out := track.Record{
			Title:      rec.Title,
			AllArtists: artists,
			DurationMs: rec.Length,
			Popularity: rec.Score,
			SourceURL:  "https://musicbrainz.org/recording/" + rec.ID,
		}
		if rec.ID != "" {
			out.ID = IDPrefix + rec.ID
		}
		if len(artists) > 0 {
			out.Artist = artists[0]
		}
		if len(rec.ISRCs) > 0 {
			out.ISRC = rec.ISRCs[0]
		}

		if len(rec.Releases) > 0 {
			rel := pickBestRelease(rec.Releases)
			out.Album = rel.Title
			out.AlbumID = IDPrefix + rel.ID
			out.ReleaseDate = rel.Date
			out.CoverURL = fmt.Sprintf("https://coverartarchive.org/release/%s/front-500", rel.ID)

			if len(rel.Media) > 0 && len(rel.Media[0].Track) > 0 {
				if n, err := strconv.Atoi(rel.Media[0].Track[0].Number); err == nil {
					out.TrackNumber = n
				}
				out.DiscNumber = rel.Media[0].Position
			}
		}

		results = append(results, out)
	}
	return results
}

func artistNames(credits []artistCredit) []string {
	var names []string
	for _, ac := range credits {
		names = append(names, ac.Artist.Name)
	}
	return names
}

// pickBestRelease selects the most appropriate release.
// Prefers: Official status, Album type, no secondary types (not Compilation), earliest date.
func pickBestRelease(releases []release) release {
	best := releases[0]
	bestScore := releaseScore(best)

	for _, rel := range releases[1:] {
		s := releaseScore(rel)
		if s > bestScore || (s == bestScore && rel.Date != "" && (best.Date == "" || rel.Date < best.Date)) {
			best = rel
			bestScore = s
		}
	}
	return best
}

func releaseScore(rel release) int {
	score := 0

	if rel.Status == "Official" {
		score += 4
	}

	if rel.ReleaseGroup.PrimaryType == "Album" {
		score += 2
	}

	if len(rel.ReleaseGroup.SecondaryTypes) == 0 {
		score += 1
	}

	return score
}

// MusicBrainz API response types

type searchResponse struct {
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID           string         `json:"id"`
	Score        int            `json:"score"`
	Title        string         `json:"title"`
	Length       int64          `json:"length"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Releases     []release      `json:"releases"`
	ISRCs        []string       `json:"isrcs"`
}

type artistCredit struct {
	Artist artistInfo `json:"artist"`
}

type artistInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type release struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Status       string       `json:"status"`
	Date         string       `json:"date"`
	ReleaseGroup releaseGroup `json:"release-group"`
	Media        []media      `json:"media"`
}

type releaseGroup struct {
	PrimaryType    string   `json:"primary-type"`
	SecondaryTypes []string `json:"secondary-types"`
}

type media struct {
	Position int          `json:"position"`
	Track    []mediaTrack `json:"track"`
}

type mediaTrack struct {
	Number string `json:"number"`
}
