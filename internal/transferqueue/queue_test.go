package transferqueue

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phototransfer/internal/hashutil"
	"phototransfer/internal/index"
	"phototransfer/internal/model"
	"phototransfer/internal/planner"
)

// fakeHandler is an in-memory device backend for driving the queue in
// tests: object ids map straight to byte blobs, reads are counted, and
// failures can be injected.
type fakeHandler struct {
	mu        sync.Mutex
	connected bool
	blobs     map[uint32][]byte
	reads     int32
	readErr   error
	lastErr   string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{connected: true, blobs: map[uint32][]byte{}}
}

func (f *fakeHandler) put(id uint32, data []byte) { f.blobs[id] = data }

func (f *fakeHandler) readCount() int { return int(atomic.LoadInt32(&f.reads)) }

func (f *fakeHandler) Detect(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeHandler) Connect(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeHandler) Disconnect()          { f.connected = false }
func (f *fakeHandler) IsConnected() bool    { return f.connected }
func (f *fakeHandler) DeviceName() string   { return "fake" }
func (f *fakeHandler) Manufacturer() string { return "test" }
func (f *fakeHandler) Model() string        { return "fake-1" }
func (f *fakeHandler) Type() string         { return "fake" }
func (f *fakeHandler) LastError() string    { return f.lastErr }

func (f *fakeHandler) Storages() ([]model.StorageInfo, error) { return nil, nil }

func (f *fakeHandler) Enumerate(ctx context.Context, subpath string) ([]model.MediaInfo, error) {
	return nil, nil
}

func (f *fakeHandler) Read(objectID uint32) ([]byte, error) {
	atomic.AddInt32(&f.reads, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		f.lastErr = f.readErr.Error()
		return nil, f.readErr
	}
	data, ok := f.blobs[objectID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeHandler) Exists(objectID uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[objectID]
	return ok
}

func media(id uint32, name string, size uint64, mtime uint64) model.MediaInfo {
	return model.MediaInfo{
		ObjectID:   id,
		Filename:   name,
		DevicePath: "/DCIM/100APPLE/" + name,
		Size:       size,
		MTime:      mtime,
		MimeType:   "image/jpeg",
	}
}

func testQueue(t *testing.T, dest string, h *fakeHandler) (*Queue, *index.Index) {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	q := New(Options{PausePollInterval: 5 * time.Millisecond}, nil)
	q.SetDestination(dest)
	q.SetHandler(h)
	q.SetIndex(ix)
	return q, ix
}

const testMTime = 1728000000 // Oct 2024 in any western timezone

func destPath(dest string, m model.MediaInfo) string {
	return planner.LocalPathFor(dest, m)
}

func TestTransferAndVerify(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	payload := bytes.Repeat([]byte{0xAB}, 1048576)
	h.put(1, payload)

	m := media(1, "IMG_0001.JPG", uint64(len(payload)), testMTime)
	q, ix := testQueue(t, dest, h)
	q.Add(m)

	q.Start(context.Background())

	items := q.Items()
	require.Len(t, items, 1)
	require.Equal(t, model.StatusCompleted, items[0].Status)
	require.Equal(t, hashutil.Bytes(payload), items[0].Hash)

	final := destPath(dest, m)
	onDisk, err := os.ReadFile(final)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)

	diskHash, err := hashutil.File(final)
	require.NoError(t, err)
	require.Equal(t, items[0].Hash, diskHash)

	// no .part remains
	_, err = os.Stat(final + ".part")
	require.True(t, os.IsNotExist(err))

	ok, err := ix.Contains(items[0].Hash)
	require.NoError(t, err)
	require.True(t, ok)

	st := q.Stats()
	require.Equal(t, 1, st.Completed)
	require.Equal(t, 0, st.Failed)
	require.Equal(t, 0, st.Skipped)
	require.Equal(t, uint64(len(payload)), st.TransferredBytes)
}

func TestDedupByExistingFile(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	payload := []byte("already here")
	m := media(7, "IMG_0002.JPG", uint64(len(payload)), testMTime)

	// A same-size file is already at the derived destination.
	final := destPath(dest, m)
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755))
	require.NoError(t, os.WriteFile(final, payload, 0o644))

	q, ix := testQueue(t, dest, h)
	q.Add(m)
	q.Start(context.Background())

	require.Equal(t, 0, h.readCount())
	require.Equal(t, model.StatusSkipped, q.Items()[0].Status)

	n, err := ix.Count()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDedupByHashAcrossNames(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	payload := []byte("identical bytes under two names")
	h.put(1, payload)
	h.put(2, payload)

	m1 := media(1, "IMG_0003.JPG", uint64(len(payload)), testMTime)
	m2 := media(2, "IMG_0004.JPG", uint64(len(payload)), testMTime)

	q, ix := testQueue(t, dest, h)
	q.Add(m1)
	q.Add(m2)
	q.Start(context.Background())

	items := q.Items()
	require.Equal(t, model.StatusCompleted, items[0].Status)
	require.Equal(t, model.StatusSkipped, items[1].Status)

	_, err := os.Stat(destPath(dest, m1))
	require.NoError(t, err)
	_, err = os.Stat(destPath(dest, m2))
	require.True(t, os.IsNotExist(err))

	n, err := ix.Count()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRetryThenFail(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	h.readErr = os.ErrPermission

	m := media(9, "IMG_0005.JPG", 100, testMTime)
	q, _ := testQueue(t, dest, h)
	q.Add(m)
	q.Start(context.Background())

	// max_retries defaults to 3: one initial attempt plus three retries.
	require.Equal(t, 4, h.readCount())

	it := q.Items()[0]
	require.Equal(t, model.StatusFailed, it.Status)
	require.NotEmpty(t, it.ErrorMessage)
	require.Equal(t, 3, it.RetryCount)

	final := destPath(dest, m)
	_, err := os.Stat(final)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(final + ".part")
	require.True(t, os.IsNotExist(err))
}

func TestNotConnectedFails(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	h.connected = false

	q, _ := testQueue(t, dest, h)
	q.SetMaxRetries(0)
	q.Add(media(1, "a.jpg", 5, testMTime))
	q.Start(context.Background())

	it := q.Items()[0]
	require.Equal(t, model.StatusFailed, it.Status)
	require.Contains(t, it.ErrorMessage, "not connected")
	require.Equal(t, 0, h.readCount())
}

func TestPauseResume(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	q, _ := testQueue(t, dest, h)

	for i := uint32(1); i <= 10; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 64)
		h.put(i, payload)
		q.Add(media(i, "IMG_"+string(rune('A'+i))+".JPG", uint64(len(payload)), testMTime))
	}

	var completed int32
	q.SetCompletedCallback(func(model.TransferItem) {
		if atomic.AddInt32(&completed, 1) == 3 {
			q.Pause()
		}
	})

	done := make(chan struct{})
	go func() {
		q.Start(context.Background())
		close(done)
	}()

	// Wait until the pause takes hold after the third completion.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 3 && q.IsPaused()
	}, 5*time.Second, time.Millisecond)

	time.Sleep(500 * time.Millisecond)
	require.Equal(t, 3, q.Stats().Completed)

	q.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not finish after resume")
	}

	for i, it := range q.Items() {
		require.Equal(t, model.StatusCompleted, it.Status, "item %d", i)
	}
	require.Equal(t, 10, q.Stats().Completed)
}

func TestCancelLiveness(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	q, _ := testQueue(t, dest, h)

	for i := uint32(1); i <= 5; i++ {
		h.put(i, []byte{byte(i)})
		q.Add(media(i, "x.jpg", 1, testMTime))
	}

	q.SetCompletedCallback(func(model.TransferItem) { q.Cancel() })

	done := make(chan struct{})
	go func() {
		q.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Cancel")
	}
	require.False(t, q.IsRunning())
	// The in-flight item completed; nothing after it started.
	require.LessOrEqual(t, q.Stats().Completed, 2)
	require.True(t, q.HasIncomplete())
}

func TestCancelDuringPause(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	q, _ := testQueue(t, dest, h)
	h.put(1, []byte("z"))
	q.Add(media(1, "z.jpg", 1, testMTime))

	q.Pause()
	done := make(chan struct{})
	go func() {
		q.Start(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Cancel during pause")
	}
	require.Equal(t, 0, q.Stats().Completed)
}

func TestStatsMonotonic(t *testing.T) {
	dest := t.TempDir()
	h := newFakeHandler()
	q, _ := testQueue(t, dest, h)

	for i := uint32(1); i <= 6; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 128)
		h.put(i, payload)
		q.Add(media(i, "IMG_"+string(rune('A'+i))+".JPG", uint64(len(payload)), testMTime+uint64(i)))
	}

	var mu sync.Mutex
	lastCompleted := 0
	var lastBytes uint64
	q.SetProgressCallback(func(st model.TransferStats) {
		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, st.Completed, lastCompleted)
		require.GreaterOrEqual(t, st.TransferredBytes, lastBytes)
		lastCompleted = st.Completed
		lastBytes = st.TransferredBytes
	})

	q.Start(context.Background())
	require.Equal(t, 6, q.Stats().Completed)
}

func TestCrashResume(t *testing.T) {
	dest := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "queue.state")

	h := newFakeHandler()
	var medias []model.MediaInfo
	for i := uint32(1); i <= 5; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 32)
		h.put(i, payload)
		medias = append(medias, media(i, "IMG_000"+string(rune('0'+i))+".JPG", uint64(len(payload)), testMTime+uint64(i)*86400*40))
	}

	q1, _ := testQueue(t, dest, h)
	for _, m := range medias {
		q1.Add(m)
	}
	var completed int32
	q1.SetCompletedCallback(func(model.TransferItem) {
		if atomic.AddInt32(&completed, 1) == 2 {
			q1.Cancel()
		}
	})
	q1.Start(context.Background())
	require.Equal(t, 2, q1.Stats().Completed)
	require.NoError(t, q1.SaveState(statePath))

	// "Restart": a fresh queue against the same destination and device.
	q2, _ := testQueue(t, dest, h)
	require.NoError(t, q2.LoadState(statePath))
	require.Equal(t, 5, q2.Size())
	require.True(t, q2.HasIncomplete())
	q2.Start(context.Background())

	items := q2.Items()
	for i, it := range items {
		require.Equal(t, model.StatusCompleted, it.Status, "item %d", i)
	}
	for _, m := range medias {
		onDisk, err := os.ReadFile(destPath(dest, m))
		require.NoError(t, err)
		require.Equal(t, h.blobs[m.ObjectID], onDisk)
	}
}

func TestResumeIdempotence(t *testing.T) {
	dest := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "queue.state")

	h := newFakeHandler()
	h.put(1, []byte("done already"))
	m := media(1, "IMG_0009.JPG", 12, testMTime)

	q1, _ := testQueue(t, dest, h)
	q1.Add(m)
	q1.Start(context.Background())
	require.Equal(t, 1, q1.Stats().Completed)
	require.NoError(t, q1.SaveState(statePath))
	readsAfterRun := h.readCount()

	q2, _ := testQueue(t, dest, h)
	require.NoError(t, q2.LoadState(statePath))
	require.False(t, q2.HasIncomplete())
	q2.Start(context.Background())

	require.Equal(t, readsAfterRun, h.readCount())
	require.Equal(t, model.StatusCompleted, q2.Items()[0].Status)
}

func TestSweepStaleParts(t *testing.T) {
	dest := t.TempDir()
	stale := filepath.Join(dest, "2024", "10", "old.jpg.part")
	fresh := filepath.Join(dest, "2024", "10", "new.jpg.part")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	h := newFakeHandler()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer ix.Close()

	q := New(Options{SweepStaleParts: true}, nil)
	q.SetDestination(dest)
	q.SetHandler(h)
	q.SetIndex(ix)
	q.Start(context.Background())

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestClassify(t *testing.T) {
	h := newFakeHandler()
	h.connected = false
	dest := t.TempDir()
	q, _ := testQueue(t, dest, h)

	it, err := q.transferItem(context.Background(), model.TransferItem{
		Media: media(1, "a.jpg", 5, testMTime),
	})
	require.Error(t, err)
	require.Equal(t, ErrNotConnected, Classify(err))
	require.Equal(t, model.StatusPending, it.Status)
}
