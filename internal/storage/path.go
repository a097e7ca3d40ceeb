package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const templatesDir = "prompts"

// BuildTemplateKey returns the object key a prompt template file is stored under.
func BuildTemplateKey(fileName string) (string, error) {
	if err := validatePathComponent(fileName, "template file name"); err != nil {
		return "", err
	}
	return path.Join(templatesDir, fileName), nil
}

// BuildParquetKey returns the key of one parquet part of table under prefix,
// in the layout ParquetTableFromKey reads back.
func BuildParquetKey(prefix, table string, part int) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	if part < 0 {
		return "", fmt.Errorf("invalid part number: %d", part)
	}
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	return path.Join(prefix, table, fmt.Sprintf("part-%04d.parquet", part)), nil
}

// ParquetTableFromKey maps an object key of the form <prefix>/<table>/<file>.parquet
// to its table name. Keys that are not parquet files directly under a table
// directory report ok=false.
func ParquetTableFromKey(prefix, key string) (table string, ok bool) {
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return "", false
		}
		key = strings.TrimPrefix(key, prefix+"/")
	}
	parts := strings.Split(key, "/")
	if len(parts) != 2 || !strings.HasSuffix(strings.ToLower(parts[1]), ".parquet") {
		return "", false
	}
	if validatePathComponent(parts[0], "table name") != nil {
		return "", false
	}
	return parts[0], true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
