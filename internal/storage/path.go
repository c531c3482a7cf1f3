package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath places result exports under server/database/date so
// object listings group naturally.
func BuildExportPath(serverAlias, databaseName, exportID string, exportedAt time.Time) (string, error) {
	if err := validatePathComponent(serverAlias, "server alias"); err != nil {
		return "", err
	}
	if err := validatePathComponent(databaseName, "database name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}

	ts := exportedAt.UTC()
	return path.Join(
		serverAlias,
		databaseName,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("export-%s.parquet", exportID),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
