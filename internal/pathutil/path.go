// Package pathutil provides the path-joining, home-expansion, and
// date-bucket helpers the Sync Planner uses to derive destination paths.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Join concatenates base and child with the host separator, collapsing any
// trailing separator on base first.
func Join(base, child string) string {
	base = strings.TrimRight(base, string(filepath.Separator))
	return filepath.Join(base, child)
}

// ExpandHome substitutes a leading "~" with the current user's home
// directory; p is returned unchanged otherwise.
func ExpandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// DateBucket returns the "YYYY/MM" folder for mtimeSeconds, in the host's
// local calendar. An mtime of 0 always maps to "1970/01", regardless of the
// host's UTC offset.
func DateBucket(mtimeSeconds uint64) string {
	if mtimeSeconds == 0 {
		return "1970/01"
	}
	t := time.Unix(int64(mtimeSeconds), 0).Local()
	return fmt.Sprintf("%04d/%02d", t.Year(), t.Month())
}

// Basename strips any directory components from name, host-separator
// agnostic (the filename may have arrived with device-side separators).
func Basename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return filepath.Base(name)
}
