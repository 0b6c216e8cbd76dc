package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"rdstrack/pkg/utils"
)

const maxCoverBytes = 10 << 20

// CoverFileName is the file a track's cover is stored under.
func CoverFileName(id string) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:]) + ".jpg"
}

type coverFetcher struct {
	client *http.Client
	dir    string
}

// fetch downloads url into the cover directory unless the file already
// exists, and returns the file name.
func (f *coverFetcher) fetch(ctx context.Context, id, url string) (string, error) {
	name := CoverFileName(id)
	path := filepath.Join(f.dir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cover download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cover download returned status %d", resp.StatusCode)
	}
	if _, err := utils.WriteFileAtomic(path, io.LimitReader(resp.Body, maxCoverBytes)); err != nil {
		return "", err
	}
	return name, nil
}

func (c *TrackCache) scheduleCover(id, url string) {
	c.coverWG.Add(1)
	go func() {
		defer c.coverWG.Done()
		c.coverSem <- struct{}{}
		defer func() { <-c.coverSem }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.FetchCover(ctx, id, url); err != nil {
			c.log.Warn("cover for %s: %v", id, err)
		}
	}()
}

// FetchCover downloads the cover of a cached track now and records its
// local path. It is a no-op when cover downloads are disabled.
func (c *TrackCache) FetchCover(ctx context.Context, id, url string) error {
	if c.covers == nil || url == "" {
		return nil
	}
	name, err := c.covers.fetch(ctx, id, url)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.db.ExecContext(ctx, `UPDATE tracks SET cover_file = ? WHERE id = ?`, name, id); err != nil {
		return fmt.Errorf("record cover for %s: %w", id, err)
	}
	c.log.Debug("stored cover %s for %s", name, id)
	return nil
}

// WaitCovers blocks until every scheduled cover download has finished.
func (c *TrackCache) WaitCovers() {
	c.coverWG.Wait()
}
