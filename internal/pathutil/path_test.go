package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinCollapsesTrailingSeparator(t *testing.T) {
	sep := string(filepath.Separator)
	require.Equal(t, filepath.Join("/a", "b"), Join("/a"+sep, "b"))
	require.Equal(t, filepath.Join("/a", "b"), Join("/a", "b"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, home, ExpandHome("~"))
	require.Equal(t, filepath.Join(home, "Pictures"), ExpandHome("~/Pictures"))
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	require.Equal(t, "relative", ExpandHome("relative"))
}

func TestDateBucket(t *testing.T) {
	require.Equal(t, "1970/01", DateBucket(0))

	// 2024-10-04 00:00:00 UTC; bucket must match the host's local calendar.
	const ts = 1728000000
	local := time.Unix(ts, 0).Local()
	want := fmt.Sprintf("%04d/%02d", local.Year(), local.Month())
	require.Equal(t, want, DateBucket(ts))
}

func TestBasenameStripsDeviceSeparators(t *testing.T) {
	require.Equal(t, "IMG_0001.JPG", Basename("IMG_0001.JPG"))
	require.Equal(t, "IMG_0001.JPG", Basename("100APPLE/IMG_0001.JPG"))
	require.Equal(t, "IMG_0001.JPG", Basename(`DCIM\100APPLE\IMG_0001.JPG`))
}
