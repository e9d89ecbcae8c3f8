package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const backupPrefix = "agenda_journal_"

// Backup writes a consistent copy of the journal into dir and returns its
// path.
func (db *DB) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s%s.db", backupPrefix, time.Now().Format("20060102_150405")))
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return dest, nil
}

// CleanupBackups removes journal backups in dir older than retention and
// reports how many were deleted.
func CleanupBackups(dir string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)

	deleted := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, file.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// RunBackups backs the journal up every interval until ctx is done.
func (db *DB) RunBackups(ctx context.Context, dir string, interval, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := db.Backup(ctx, dir)
			if err != nil {
				logger.Error().Err(err).Msg("journal backup failed")
				continue
			}
			logger.Info().Str("path", path).Msg("journal backup completed")

			if n, err := CleanupBackups(dir, retention); err != nil {
				logger.Error().Err(err).Msg("journal backup cleanup failed")
			} else if n > 0 {
				logger.Info().Int("deleted", n).Msg("cleaned up old journal backups")
			}
		}
	}
}
