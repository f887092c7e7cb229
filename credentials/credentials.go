// Package credentials discovers a gateway token in the desktop client's
// local storage.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"unicode/utf8"
)

// ErrNotFound is returned when no token could be found.
var ErrNotFound = errors.New("credentials: token not found")

var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^mfa\.[A-Za-z0-9+_\-/]{20,}`),
	regexp.MustCompile(`^[A-Za-z0-9+/]{4,}\.[A-Za-z0-9+/]{4,}\.[A-Za-z0-9+/]{4,}`),
}

// StorageDir returns the local storage directory of the desktop client,
// derived from APPDATA.
func StorageDir() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", fmt.Errorf("%w: APPDATA is not set", ErrNotFound)
	}
	return filepath.Join(appData, "discord", "Local Storage", "leveldb"), nil
}

// Find searches StorageDir for a token.
func Find() (string, error) {
	dir, err := StorageDir()
	if err != nil {
		return "", err
	}
	return FindIn(dir)
}

// FindIn scans the *.ldb files in dir, newest name first. Within a file the
// quoted fields are checked from last to first.
func FindIn(dir string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ldb"))
	if err != nil {
		return "", err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", p, err)
		}
		if tok, ok := scan(data); ok {
			return tok, nil
		}
	}
	return "", ErrNotFound
}

func scan(data []byte) (string, bool) {
	fields := bytes.Split(data, []byte(`"`))
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if !isASCII(f) {
			continue
		}
		for _, re := range tokenPatterns {
			if re.Match(f) {
				return string(f), true
			}
		}
	}
	return "", false
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
