package device

import "context"

// IOSAFC backs onto a host-side AFC (ifuse-style) mount. It only walks
// DCIM/ — iOS does not expose a sibling Movies/ directory the way the
// reference Android layout does — and does not attempt a read-only mount,
// since AFC mounts are already read/write-capable through the host's
// mount helper.
type IOSAFC struct {
	*mountedBackend
	udid string
}

// NewIOSAFC builds a handler rooted at mountPoint for the device
// identified by udid (used only for labeling; mounting is assumed to be
// performed by the host's AFC mount helper before Connect is called).
func NewIOSAFC(mountPoint, udid string) *IOSAFC {
	return &IOSAFC{
		mountedBackend: newMountedBackend(mountPoint, "ios_afc", []string{"DCIM"}, false),
		udid:           udid,
	}
}

func (i *IOSAFC) Connect(ctx context.Context, name string) (bool, error) {
	ok, err := i.connect("") // AFC mount is established externally
	if !ok {
		return false, err
	}
	i.deviceName = i.udid
	if name != "" {
		i.deviceName = name
	}
	i.manufacturer = "Apple"
	return true, nil
}
