package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names a per-run log file inside logsDir, stamped with the
// run's start time in UTC, e.g. hnnavpoints-20260212T213836Z.log.
func LogFilePath(logsDir, name string, runStart time.Time) string {
	stamp := runStart.UTC().Format("20060102T150405Z")
	return filepath.Join(logsDir, fmt.Sprintf("%s-%s.log", name, stamp))
}
