package device

import (
	"context"
	"hash/crc32"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"phototransfer/internal/model"
)

// mountedBackend is the shared implementation behind AndroidMTP and IOSAFC:
// both present the device as a mounted filesystem tree, differing only in
// which subpaths get walked and how connect()/disconnect() mount the
// device.
type mountedBackend struct {
	mu sync.Mutex

	mountPoint    string
	deviceName    string
	manufacturer  string
	model         string
	devType       string
	mediaRoots    []string // subpaths under mountPoint to enumerate, e.g. "DCIM"
	mountReadOnly bool

	connected bool
	lastErr   string

	objects map[uint32]objectRecord
}

type objectRecord struct {
	absPath  string
	relPath  string
	size     uint64
	mtime    uint64
	mimeType string
}

func newMountedBackend(mountPoint, devType string, mediaRoots []string, mountReadOnly bool) *mountedBackend {
	return &mountedBackend{
		mountPoint:    mountPoint,
		devType:       devType,
		mediaRoots:    mediaRoots,
		mountReadOnly: mountReadOnly,
		objects:       make(map[uint32]objectRecord),
	}
}

// Detect watches the parent directory of mountPoint for the mount point's
// appearance.
func (b *mountedBackend) Detect(ctx context.Context) (bool, error) {
	if _, err := os.Stat(b.mountPoint); err == nil {
		return true, nil
	}

	parent := filepath.Dir(b.mountPoint)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer watcher.Close()

	if err := watcher.Add(parent); err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return false, nil
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(b.mountPoint) {
				return true, nil
			}
		case err := <-watcher.Errors:
			return false, err
		}
	}
}

func (b *mountedBackend) connect(devNode string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.mountPoint, 0o755); err != nil {
		b.lastErr = err.Error()
		return false, err
	}

	if devNode != "" {
		args := []string{devNode, b.mountPoint}
		if b.mountReadOnly {
			args = append([]string{"-o", "ro"}, args...)
		}
		if err := exec.Command("mount", args...).Run(); err != nil {
			b.lastErr = err.Error()
			return false, err
		}
	}

	b.connected = true
	return true, nil
}

func (b *mountedBackend) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		_ = exec.Command("umount", b.mountPoint).Run()
	}
	b.connected = false
}

func (b *mountedBackend) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *mountedBackend) DeviceName() string   { return b.deviceName }
func (b *mountedBackend) Manufacturer() string { return b.manufacturer }
func (b *mountedBackend) Model() string        { return b.model }
func (b *mountedBackend) Type() string         { return b.devType }
func (b *mountedBackend) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *mountedBackend) setErr(err error) {
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
}

// Storages reports one StorageInfo per configured media root's
// filesystem, via syscall.Statfs.
func (b *mountedBackend) Storages() ([]model.StorageInfo, error) {
	var out []model.StorageInfo
	seen := map[string]bool{}
	for i, root := range b.mediaRoots {
		full := filepath.Join(b.mountPoint, root)
		var stfs syscall.Statfs_t
		if err := syscall.Statfs(full, &stfs); err != nil {
			continue
		}
		key := full
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.StorageInfo{
			StorageID:   uint32(i + 1),
			Description: root,
			Capacity:    uint64(stfs.Blocks) * uint64(stfs.Bsize),
			Free:        uint64(stfs.Bfree) * uint64(stfs.Bsize),
			StorageType: 0,
		})
	}
	return out, nil
}

// mediaExtensions is the media-only filter applied during enumeration.
var mediaExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".heic": "image/heic",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".3gp":  "video/3gpp",
}

// Enumerate recursively walks subpath (or every configured media root, if
// subpath is empty) and returns a flat list of media-only items,
// regardless of on-device directory structure.
func (b *mountedBackend) Enumerate(ctx context.Context, subpath string) ([]model.MediaInfo, error) {
	roots := b.mediaRoots
	if subpath != "" {
		roots = []string{subpath}
	}

	b.mu.Lock()
	b.objects = make(map[uint32]objectRecord)
	b.mu.Unlock()

	var out []model.MediaInfo
	for _, root := range roots {
		full := filepath.Join(b.mountPoint, root)
		if _, err := os.Stat(full); err != nil {
			continue
		}

		err := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(d.Name()))
			mime, ok := mediaExtensions[ext]
			if !ok {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(b.mountPoint, path)
			if err != nil {
				return err
			}
			rel = "/" + filepath.ToSlash(rel)

			id := objectIDFor(rel)
			rec := objectRecord{
				absPath:  path,
				relPath:  rel,
				size:     uint64(info.Size()),
				mtime:    uint64(info.ModTime().Unix()),
				mimeType: mime,
			}

			b.mu.Lock()
			b.objects[id] = rec
			b.mu.Unlock()

			out = append(out, model.MediaInfo{
				ObjectID:   id,
				Filename:   filepath.Base(rel),
				DevicePath: rel,
				Size:       rec.size,
				MTime:      rec.mtime,
				MimeType:   mime,
				Source:     b.devType,
			})
			return nil
		})
		if err != nil {
			return out, err
		}
	}

	return out, nil
}

// objectIDFor derives a stable-for-the-session 32-bit object id from a
// device path; it is deterministic across re-enumeration within the same
// file layout.
func objectIDFor(relPath string) uint32 {
	return crc32.ChecksumIEEE([]byte(relPath))
}

func (b *mountedBackend) Read(objectID uint32) ([]byte, error) {
	b.mu.Lock()
	rec, ok := b.objects[objectID]
	b.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(rec.absPath)
	if err != nil {
		b.setErr(err)
		return nil, err
	}
	return data, nil
}

func (b *mountedBackend) Exists(objectID uint32) bool {
	b.mu.Lock()
	rec, ok := b.objects[objectID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	_, err := os.Stat(rec.absPath)
	return err == nil
}

// Delete removes the file from the mounted device, remounting read-write
// around the removal when the mount is normally read-only.
func (b *mountedBackend) Delete(objectID uint32) error {
	b.mu.Lock()
	rec, ok := b.objects[objectID]
	mountRO := b.mountReadOnly
	mountPoint := b.mountPoint
	b.mu.Unlock()
	if !ok {
		return os.ErrNotExist
	}

	if mountRO {
		if err := exec.Command("mount", "-o", "remount,rw", mountPoint).Run(); err != nil {
			return err
		}
		defer func() { _ = exec.Command("mount", "-o", "remount,ro", mountPoint).Run() }()
	}

	if err := os.Remove(rec.absPath); err != nil {
		return err
	}
	_ = exec.Command("sync").Run()
	return nil
}

// deriveDeviceLabel picks a stable, path-safe label for logging: an
// on-device marker file first, then udev identity properties, then a
// devpath hash as last resort.
func deriveDeviceLabel(mountPoint string, udevProps map[string]string) string {
	if id, ok := readMarkerFile(mountPoint); ok {
		return sanitizeLabel(id)
	}
	for _, key := range []string{"ID_FS_UUID", "ID_SERIAL_SHORT", "ID_SERIAL"} {
		if v := udevProps[key]; v != "" {
			return sanitizeLabel(v)
		}
	}
	sum := crc32.ChecksumIEEE([]byte(udevProps["DEVPATH"]))
	return "usb-" + strconv.FormatUint(uint64(sum), 16)
}

func readMarkerFile(mountPoint string) (string, bool) {
	paths := []string{filepath.Join(mountPoint, "DCIM", ".phototransfer")}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(b), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if v, ok := strings.CutPrefix(line, "device_id="); ok {
				return strings.TrimSpace(v), true
			}
			if !strings.Contains(line, "=") {
				return line, true
			}
		}
	}
	return "", false
}

func sanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
