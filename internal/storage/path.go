package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchiveKey lays archives out by service and UTC day of the rotation:
// <service>/audit/date=YYYY-MM-DD/<base>.parquet
func BuildArchiveKey(service string, rotatedAt time.Time, base string) (string, error) {
	if err := validatePathComponent(service, "service"); err != nil {
		return "", err
	}
	base = strings.TrimSuffix(base, ".parquet")
	if err := validatePathComponent(base, "archive name"); err != nil {
		return "", err
	}
	ts := rotatedAt.UTC()
	return path.Join(
		service,
		"audit",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		base+".parquet",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
