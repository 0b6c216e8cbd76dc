package cache

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rdstrack/pkg/utils"
)

// ErrInvalidArchive is returned by Import for a file that is not a cache export.
var ErrInvalidArchive = errors.New("not a track cache archive")

// Export writes a zip holding a consistent copy of the database as
// tracks.db plus every cover as covers/<name>.jpg.
func (c *TrackCache) Export(ctx context.Context, w io.Writer) error {
	tmpDir, err := utils.CreateTempDir()
	if err != nil {
		return err
	}
	defer utils.Cleanup(tmpDir)

	snapshot := filepath.Join(tmpDir, dbFileName)
	c.mu.RLock()
	_, err = c.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	zw := zip.NewWriter(w)
	if err := addFile(zw, dbFileName, snapshot); err != nil {
		return err
	}

	entries, err := os.ReadDir(c.coversDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read covers: %w", err)
	}
	covers := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		if err := addFile(zw, path.Join(coverDir, e.Name()), filepath.Join(c.coversDir, e.Name())); err != nil {
			return err
		}
		covers++
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	c.log.Info("exported cache with %d covers", covers)
	return nil
}

// ExportFile writes the archive to a file.
func (c *TrackCache) ExportFile(ctx context.Context, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := c.Export(ctx, f); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func addFile(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Import replaces the whole cache with the contents of an archive written
// by Export and returns the number of tracks it holds. The current
// database and covers are kept if the archive is rejected.
func (c *TrackCache) Import(ctx context.Context, r io.ReaderAt, size int64) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	tmpDir, err := utils.CreateTempDir()
	if err != nil {
		return 0, err
	}
	defer utils.Cleanup(tmpDir)

	var (
		dbFile  string
		covers  []string
		tmpCovs = filepath.Join(tmpDir, coverDir)
	)
	for _, f := range zr.File {
		switch {
		case f.Name == dbFileName:
			dbFile = filepath.Join(tmpDir, dbFileName)
			if err := extract(f, dbFile); err != nil {
				return 0, err
			}
		case strings.HasPrefix(f.Name, coverDir+"/") && strings.HasSuffix(f.Name, ".jpg"):
			name := path.Base(f.Name)
			// reject nested paths and traversal
			if f.Name != coverDir+"/"+name || name == ".jpg" {
				continue
			}
			if err := extract(f, filepath.Join(tmpCovs, name)); err != nil {
				return 0, err
			}
			covers = append(covers, name)
		}
	}
	if dbFile == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidArchive, dbFileName)
	}
	if err := validateSnapshot(ctx, dbFile); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	c.coverWG.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Close(); err != nil {
		c.log.Warn("close cache before import: %v", err)
	}
	swapErr := c.replaceFiles(dbFile, tmpCovs, covers)

	// reopen whatever is on disk now, even if the swap failed half way
	db, err := openDB(c.dbPath)
	if err != nil {
		return 0, err
	}
	c.db = db
	if swapErr != nil {
		return 0, swapErr
	}

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count imported tracks: %w", err)
	}
	c.log.Info("imported %d tracks and %d covers", n, len(covers))
	return n, nil
}

func (c *TrackCache) replaceFiles(dbFile, tmpCovs string, covers []string) error {
	if err := utils.MoveFile(dbFile, c.dbPath); err != nil {
		return err
	}
	if err := os.RemoveAll(c.coversDir); err != nil {
		return fmt.Errorf("clear covers: %w", err)
	}
	if err := os.MkdirAll(c.coversDir, 0o755); err != nil {
		return err
	}
	for _, name := range covers {
		if err := utils.MoveFile(filepath.Join(tmpCovs, name), filepath.Join(c.coversDir, name)); err != nil {
			c.log.Warn("import cover %s: %v", name, err)
		}
	}
	return nil
}

// ImportFile imports an archive from disk.
func (c *TrackCache) ImportFile(ctx context.Context, src string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return c.Import(ctx, f, info.Size())
}

func extract(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer rc.Close()
	_, err = utils.WriteFileAtomic(dst, rc)
	return err
}

// validateSnapshot opens an extracted database and checks it carries a
// readable tracks table with the expected columns.
func validateSnapshot(ctx context.Context, file string) error {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `SELECT `+trackColumns+` FROM tracks LIMIT 1`)
	if err != nil {
		return err
	}
	return rows.Close()
}
