package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExtension is the suffix rotating log files are expected to carry.
const DefaultExtension = ".txt"

// ErrNoLogFile is returned when no file in a directory matches a prefix.
var ErrNoLogFile = errors.New("no matching log file")

// LatestLog returns the newest "<prefix>*.txt" file in dir.
func LatestLog(dir, prefix string) (string, error) {
	return FindLatest(dir, prefix, DefaultExtension)
}

// FindLatest returns the absolute path of the regular file in dir whose
// name starts with prefix and ends with ext and whose modification time is
// the greatest. Equal times resolve to the lexicographically last path.
func FindLatest(dir, prefix, ext string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", abs, err)
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(abs, name)
		mt := info.ModTime()
		if best == "" || mt.After(bestTime) || (mt.Equal(bestTime) && path > best) {
			best, bestTime = path, mt
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNoLogFile, prefix+"*"+ext, abs)
	}
	return best, nil
}
