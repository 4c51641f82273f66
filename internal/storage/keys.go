package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var keySegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._=-]{0,127}$`)

// BuildTranscriptKey returns <prefix>/date=YYYY-MM-DD/exchanges-<unix>-<seq>.parquet
// for a batch flushed at flushedAt.
func BuildTranscriptKey(prefix string, flushedAt time.Time, sequence int) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", fmt.Errorf("transcript prefix is required")
	}
	for _, segment := range strings.Split(prefix, "/") {
		if !keySegmentPattern.MatchString(segment) {
			return "", fmt.Errorf("invalid transcript prefix segment: %q", segment)
		}
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}

	ts := flushedAt.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("exchanges-%d-%05d.parquet", ts.Unix(), sequence),
	), nil
}
