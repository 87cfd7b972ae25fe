package bibfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupTimeFormat is the timestamp layout used in backup file names.
const BackupTimeFormat = "20060102150405"

// BackupPath returns the backup name for path at time now:
// papers.bib becomes papers.bak.20240101120000.bib.
func BackupPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.bak.%s%s", stem, now.Format(BackupTimeFormat), ext)
}

// Backup copies path to its timestamped backup name.
// Returns "" without error if path does not exist.
func Backup(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	target := BackupPath(path, now)
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("writing backup %s: %w", target, err)
	}
	return target, nil
}
