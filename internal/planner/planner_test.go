package planner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"phototransfer/internal/index"
	"phototransfer/internal/model"
	"phototransfer/internal/pathutil"
)

func openIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestPlanRetainsEverythingByDefault(t *testing.T) {
	ix := openIndex(t)
	media := []model.MediaInfo{
		{ObjectID: 1, Filename: "a.jpg", MTime: 100},
		{ObjectID: 2, Filename: "b.jpg", MTime: 200},
	}

	items, err := Plan(media, ix, Options{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i, it := range items {
		require.Equal(t, model.StatusPending, it.Status)
		require.Equal(t, media[i], it.Media)
	}
}

func TestPlanOnlyNewFiltersByLastSync(t *testing.T) {
	ix := openIndex(t)
	require.NoError(t, ix.SetLastSyncTime(150))

	media := []model.MediaInfo{
		{ObjectID: 1, Filename: "old.jpg", MTime: 100},
		{ObjectID: 2, Filename: "boundary.jpg", MTime: 150},
		{ObjectID: 3, Filename: "new.jpg", MTime: 151},
	}

	items, err := Plan(media, ix, Options{OnlyNew: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "new.jpg", items[0].Media.Filename)
}

func TestPlanOnlyNewWithNoSyncRetainsAll(t *testing.T) {
	ix := openIndex(t)
	media := []model.MediaInfo{
		{ObjectID: 1, Filename: "a.jpg", MTime: 1},
	}

	items, err := Plan(media, ix, Options{OnlyNew: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestLocalPathForDerivation(t *testing.T) {
	m := model.MediaInfo{Filename: "IMG_0001.HEIC", MTime: 1728000000}
	got := LocalPathFor("/dest", m)
	want := filepath.Join("/dest", pathutil.DateBucket(m.MTime), "IMG_0001.HEIC")
	require.Equal(t, want, got)

	// Directory components in the filename are stripped.
	m.Filename = "100APPLE/IMG_0001.HEIC"
	require.Equal(t, want, LocalPathFor("/dest", m))

	// Zero mtime lands in the epoch bucket.
	m.Filename = "IMG_0001.HEIC"
	m.MTime = 0
	require.Equal(t, filepath.Join("/dest", "1970", "01", "IMG_0001.HEIC"), LocalPathFor("/dest", m))
}

func TestMarkSyncedAdvancesWatermark(t *testing.T) {
	ix := openIndex(t)
	require.NoError(t, MarkSynced(ix))
	ts, err := ix.LastSyncTime()
	require.NoError(t, err)
	require.NotZero(t, ts)
}
