// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zip"

	"github.com/ManuGH/playstate/internal/persistence/sqlite"
)

// writeArchive zips dataDir into dest. The archive becomes visible only through an
// atomic rename, so a reader never sees a half-written zip.
func (s *Scheduler) writeArchive(ctx context.Context, dest string) (int, error) {
	pendingFile, err := renameio.NewPendingFile(dest,
		renameio.WithTempDir(filepath.Dir(dest)),
		renameio.WithPermissions(0o600),
	)
	if err != nil {
		return 0, fmt.Errorf("create pending archive: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending archive")
		}
	}()

	zw := zip.NewWriter(pendingFile)
	entries := 0
	err = filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dataDir && (s.isBackupDir(path) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipFile(d) {
			return nil
		}

		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		entry := filepath.ToSlash(rel)
		if sqlite.IsDatabase(path) {
			if err := s.addSQLite(ctx, zw, path, entry); err != nil {
				s.logger.Warn().Err(err).Str("entry", entry).Msg("consistent sqlite copy failed, archiving raw file")
				if err := addFile(zw, path, entry); err != nil {
					return err
				}
			}
		} else if err := addFile(zw, path, entry); err != nil {
			return err
		}
		entries++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("archive data dir: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}

	// CloseAtomicallyReplace: fsync + rename (durable + atomic)
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("atomically replace archive: %w", err)
	}
	return entries, nil
}

func (s *Scheduler) isBackupDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == s.backupDirAbs
}

// skipFile excludes pending temp files (hidden, as created by renameio) and
// SQLite sidecars whose content is already folded into the consistent copy.
func skipFile(d fs.DirEntry) bool {
	name := d.Name()
	if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// addSQLite stores a transactionally consistent, integrity-checked copy of a live
// database, so a snapshot never captures a database mid-transaction.
func (s *Scheduler) addSQLite(ctx context.Context, zw *zip.Writer, path, entry string) error {
	tmpDir, err := os.MkdirTemp("", "playstate-snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	copyPath := filepath.Join(tmpDir, filepath.Base(path))

	if err := sqlite.Copy(ctx, path, copyPath, sqlite.DefaultBusyTimeout); err != nil {
		return err
	}
	issues, err := sqlite.VerifyIntegrity(ctx, copyPath, "quick")
	if err != nil {
		return err
	}
	if issues != nil {
		return fmt.Errorf("sqlite: copy failed integrity check: %s", strings.Join(issues, "; "))
	}
	return addFile(zw, copyPath, entry)
}

func addFile(zw *zip.Writer, path, entry string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from walking the configured data dir
	if err != nil {
		return fmt.Errorf("open %s: %w", entry, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entry, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", entry, err)
	}
	hdr.Name = entry
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", entry, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compress %s: %w", entry, err)
	}
	return nil
}
