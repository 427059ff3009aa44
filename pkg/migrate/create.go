package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)
	migrationRe    = regexp.MustCompile(`^(\d{14})_(.+)\.sql$`)
)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <dir>/<version>_<name>.sql. The version is now in UTC, moved one second past
// the newest existing migration when the clock would sort it earlier.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", errors.New("dir is required")
	}
	safe, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := scanExisting(dir, safe)
	if err != nil {
		return "", err
	}
	stamp := now.UTC().Truncate(time.Second)
	if !stamp.After(latest) {
		stamp = latest.Add(time.Second)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", stamp.Format(versionLayout), safe))
	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, safe); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

// scanExisting returns the newest version in dir and fails when a migration
// called name is already present.
func scanExisting(dir, name string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("read %q: %w", dir, err)
	}
	var latest time.Time
	for _, entry := range entries {
		m := migrationRe.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}
		if m[2] == name {
			return time.Time{}, fmt.Errorf("migration %q already exists: %s", name, entry.Name())
		}
		if v, err := time.Parse(versionLayout, m[1]); err == nil && v.After(latest) {
			latest = v
		}
	}
	return latest, nil
}

func sanitizeName(name string) (string, error) {
	safe := strings.Trim(nameSanitizeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if safe == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	return safe, nil
}
