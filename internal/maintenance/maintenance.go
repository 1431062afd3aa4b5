// Package maintenance runs the hub's background housekeeping: the
// connectivity check and the nightly photo backup with pruning.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/photos"
)

const (
	onlineProbe    = "1.1.1.1:53"
	onlineTimeout  = 3 * time.Second
	onlineInterval = 5 * time.Minute
	backupHour     = 2
	backupPrefix   = "photos-backup-"
	// minFreeBytes is the free space a backup leaves on the disk.
	minFreeBytes = 64 << 20
)

// ErrLowDisk is returned when a backup would fill the disk.
var ErrLowDisk = errors.New("not enough free disk space for a backup")

// Backuper writes the photo collection as a backup file.
type Backuper interface {
	WriteBackup(ctx context.Context, w io.Writer) (int, error)
}

// Service manages background maintenance goroutines.
type Service struct {
	backupDir string
	photos    Backuper
	keep      time.Duration
	onOnline  func(bool)

	now       func() time.Time
	freeSpace func(path string) (uint64, error)
}

// New creates a maintenance service. Backups go to backupDir and are kept
// for keepDays; keepDays <= 0 keeps them forever. onOnline is called on
// every change of the connectivity check.
func New(backupDir string, photos Backuper, keepDays int, onOnline func(bool)) *Service {
	return &Service{
		backupDir: backupDir,
		photos:    photos,
		keep:      time.Duration(keepDays) * 24 * time.Hour,
		onOnline:  onOnline,
		now:       time.Now,
		freeSpace: freeBytes,
	}
}

// Start launches all background maintenance goroutines.
// Blocks until ctx is cancelled; all goroutines respect the context.
func (s *Service) Start(ctx context.Context) {
	go s.runCheckOnline(ctx)
	go s.runBackup(ctx)

	<-ctx.Done()
}

// runCheckOnline probes connectivity every onlineInterval.
func (s *Service) runCheckOnline(ctx context.Context) {
	d := &net.Dialer{Timeout: onlineTimeout}
	c := &onlineChecker{dial: d.DialContext, notify: s.onOnline}
	c.check(ctx)

	ticker := time.NewTicker(onlineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// onlineChecker reports the first result and every change after it.
type onlineChecker struct {
	dial   func(ctx context.Context, network, address string) (net.Conn, error)
	notify func(bool)
	last   bool
	seen   bool
}

func (c *onlineChecker) check(ctx context.Context) bool {
	conn, err := c.dial(ctx, "tcp", onlineProbe)
	if err == nil {
		conn.Close()
	} else if ctx.Err() != nil {
		return c.last
	}
	online := err == nil
	if c.seen && online == c.last {
		return online
	}
	c.seen, c.last = true, online
	slog.Info("maintenance: connectivity changed", "online", online)
	if c.notify != nil {
		c.notify(online)
	}
	return online
}

// runBackup performs the photo backup every night at 2am.
func (s *Service) runBackup(ctx context.Context) {
	for {
		delay := untilHour(s.now(), backupHour)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			path, err := s.RunBackupNow(ctx)
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// untilHour returns the time from now to the next occurrence of hour:00.
func untilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// RunBackupNow writes today's backup, replacing one taken earlier the same
// day, and prunes expired backups. It returns the backup file path.
func (s *Service) RunBackupNow(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	free, err := s.freeSpace(s.backupDir)
	if err != nil {
		return "", fmt.Errorf("check free space: %w", err)
	}
	if free < minFreeBytes {
		return "", fmt.Errorf("%w: %d MiB left", ErrLowDisk, free>>20)
	}

	dest := filepath.Join(s.backupDir, photos.BackupFilename(s.now()))
	tmp, err := os.CreateTemp(s.backupDir, ".backup-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := s.photos.WriteBackup(ctx, tmp)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, dest)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write backup: %w", err)
	}
	slog.Debug("maintenance: photos backed up", "count", n)

	if s.keep > 0 {
		pruneOldBackups(s.backupDir, s.keep, s.now())
	}
	return dest, nil
}

// ListBackups returns the backup files in dir sorted by name, oldest first.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, e := range entries {
		if isBackup(e) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBackup(e os.DirEntry) bool {
	return !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json")
}

// pruneOldBackups deletes backup files older than maxAge from backupDir.
func pruneOldBackups(backupDir string, maxAge time.Duration, now time.Time) {
	files, err := ListBackups(backupDir)
	if err != nil {
		slog.Warn("maintenance: cannot list backups", "dir", backupDir, "err", err)
		return
	}

	cutoff := now.Add(-maxAge)
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			continue
		}
		slog.Info("maintenance: pruned old backup", "file", path)
	}
}
