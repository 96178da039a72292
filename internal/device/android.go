package device

import "context"

// AndroidMTP backs onto a host-side MTP/FUSE gadget mount, walking DCIM/
// and Movies/ for media.
type AndroidMTP struct {
	*mountedBackend
	devNode   string
	udevProps map[string]string
}

// NewAndroidMTP builds a handler rooted at mountPoint. devNode, if set, is
// passed to `mount` on Connect; udevProps seeds the device-label cascade.
func NewAndroidMTP(mountPoint, devNode string, udevProps map[string]string) *AndroidMTP {
	return &AndroidMTP{
		mountedBackend: newMountedBackend(mountPoint, "android_mtp", []string{"DCIM", "Movies"}, true),
		devNode:        devNode,
		udevProps:      udevProps,
	}
}

func (a *AndroidMTP) Connect(ctx context.Context, name string) (bool, error) {
	ok, err := a.connect(a.devNode)
	if !ok {
		return false, err
	}
	a.deviceName = deriveDeviceLabel(a.mountPoint, a.udevProps)
	if name != "" {
		a.deviceName = name
	}
	a.manufacturer = a.udevProps["ID_VENDOR"]
	a.model = a.udevProps["ID_MODEL"]
	return true, nil
}
