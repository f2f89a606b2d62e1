package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/storage"
)

type ArchiveSummary struct {
	FilesFound      int `json:"files_found"`
	FilesArchived   int `json:"files_archived"`
	FilesEmpty      int `json:"files_empty"`
	RecordsArchived int `json:"records_archived"`
	Failures        int `json:"failures"`
}

// Archiver uploads rotated audit backups as parquet and deletes each local
// backup once the upload is confirmed. The active file is never touched.
type Archiver struct {
	AuditPath   string
	Service     string
	ObjectStore storage.ObjectStore
	Logger      *slog.Logger
}

func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("archive interval must be > 0")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := a.RunOnce(ctx)
			if err != nil {
				a.logger().ErrorContext(ctx, "audit archive cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			if summary.FilesFound > 0 {
				a.logger().InfoContext(ctx, "audit archive cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

func (a *Archiver) RunOnce(ctx context.Context) (ArchiveSummary, error) {
	if a.ObjectStore == nil {
		return ArchiveSummary{}, fmt.Errorf("object store is required")
	}
	backups, err := ListBackups(a.AuditPath)
	if err != nil {
		return ArchiveSummary{}, err
	}

	summary := ArchiveSummary{FilesFound: len(backups)}
	var errs []error
	for _, backup := range backups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		records, err := a.archive(ctx, backup)
		observability.ObserveAuditArchive(err)
		if err != nil {
			summary.Failures++
			errs = append(errs, fmt.Errorf("%s: %w", backup.Path, err))
			a.logger().WarnContext(ctx, "audit backup not archived",
				slog.String("path", backup.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if records == 0 {
			summary.FilesEmpty++
			continue
		}
		summary.FilesArchived++
		summary.RecordsArchived += records
	}
	if len(errs) > 0 {
		return summary, fmt.Errorf("%d of %d audit backups failed: %w", summary.Failures, summary.FilesFound, errors.Join(errs...))
	}
	return summary, nil
}

func (a *Archiver) archive(ctx context.Context, backup Backup) (int, error) {
	records, err := ReadRecords(backup.Path, backup.Compressed)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, removeBackup(backup.Path)
	}

	data, err := EncodeParquet(records)
	if err != nil {
		return 0, err
	}
	key, err := storage.BuildArchiveKey(a.Service, backup.RotatedAt, backup.Name)
	if err != nil {
		return 0, err
	}
	_, err = a.ObjectStore.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"records": strconv.Itoa(len(records))},
	})
	if err != nil {
		return 0, err
	}
	info, err := a.ObjectStore.Stat(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("verify upload: %w", err)
	}
	if info.Size != int64(len(data)) {
		// The backup stays local and the next cycle retries the upload.
		if err := a.ObjectStore.Delete(ctx, key); err != nil {
			a.logger().WarnContext(ctx, "partial audit archive not removed", slog.String("key", key), slog.Any("error", err))
		}
		return 0, fmt.Errorf("verify upload: size %d, want %d", info.Size, len(data))
	}
	return len(records), removeBackup(backup.Path)
}

func removeBackup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archived backup: %w", err)
	}
	return nil
}

func (a *Archiver) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
