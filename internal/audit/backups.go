package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// lumberjack's backup timestamp layout.
const backupTimeFormat = "2006-01-02T15-04-05.000"

type Backup struct {
	Path       string
	Name       string
	RotatedAt  time.Time
	Compressed bool
}

// ListBackups finds rotated backups of the audit file at activePath, oldest first.
// The active file itself is never returned.
func ListBackups(activePath string) ([]Backup, error) {
	dir := filepath.Dir(activePath)
	base := filepath.Base(activePath)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit dir: %w", err)
	}

	backups := make([]Backup, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		compressed := strings.HasSuffix(name, ".gz")
		trimmed := strings.TrimSuffix(name, ".gz")
		if !strings.HasPrefix(trimmed, prefix) || !strings.HasSuffix(trimmed, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(trimmed, prefix), ext)
		rotatedAt, err := time.Parse(backupTimeFormat, stamp)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Path:       filepath.Join(dir, name),
			Name:       strings.TrimSuffix(trimmed, ext),
			RotatedAt:  rotatedAt,
			Compressed: compressed,
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].RotatedAt.Before(backups[j].RotatedAt)
	})
	return backups, nil
}
