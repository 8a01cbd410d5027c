// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/playstate/internal/log"
)

// maxEntryBytes bounds how much of one archive entry FindFile reads into memory.
const maxEntryBytes = 16 << 20

// Archive describes one snapshot on disk.
type Archive struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"` // relative to the backup directory, slash separated
	ModTime time.Time `json:"modTime"`
	Size    int64     `json:"size"`
}

// Catalog lists and reads archives in a backup directory.
type Catalog struct {
	dir    string
	logger zerolog.Logger
}

// NewCatalog returns a Catalog over dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, logger: xglog.WithComponent("backup.catalog")}
}

// Dir returns the backup directory.
func (c *Catalog) Dir() string { return c.dir }

// List returns all archives, newest first. A missing directory yields no archives.
func (c *Catalog) List() ([]Archive, error) {
	var out []Archive
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == c.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), ".zip") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		out = append(out, Archive{
			Path:    path,
			Name:    filepath.ToSlash(rel),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archives in %s: %w", c.dir, err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// FindFile walks archives newest first and hands the bytes of entry name to accept.
// It returns the path of the first archive accept returns nil for.
func (c *Catalog) FindFile(ctx context.Context, name string, accept func(archive string, data []byte) error) (string, error) {
	archives, err := c.List()
	if err != nil {
		return "", err
	}
	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := readEntry(a.Path, name)
		if err != nil {
			c.logger.Debug().Err(err).Str(xglog.FieldArchive, a.Path).Msg("archive entry unavailable")
			continue
		}
		if err := accept(a.Path, data); err != nil {
			continue
		}
		return a.Path, nil
	}
	return "", fmt.Errorf("%w: %s in %d archives", ErrEntryNotFound, name, len(archives))
}

func readEntry(archivePath, name string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", name, err)
		}
		defer func() { _ = rc.Close() }()
		data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// prune deletes archives beyond keep, oldest first, and removes month directories
// left empty. It returns how many archives were deleted and how many remain.
func (c *Catalog) prune(keep int) (int, int, error) {
	archives, err := c.List()
	if err != nil {
		return 0, 0, err
	}
	if len(archives) <= keep {
		return 0, len(archives), nil
	}

	var errs []error
	deleted := 0
	for _, a := range archives[keep:] {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		deleted++
		if dir := filepath.Dir(a.Path); dir != filepath.Clean(c.dir) {
			// Fails harmlessly while the month still holds archives.
			_ = os.Remove(dir)
		}
	}
	return deleted, len(archives) - deleted, errors.Join(errs...)
}
