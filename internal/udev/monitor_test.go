package udev

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleStream = `ACTION=add
DEVNAME=/dev/sdb1
DEVPATH=/devices/pci0000:00/usb1/1-2/1-2:1.0/host6/target6:0:0/6:0:0:0/block/sdb/sdb1
DEVTYPE=partition
ID_BUS=usb
ID_VENDOR=SAMSUNG
ID_MODEL=Galaxy_S21
ID_SERIAL=SAMSUNG_Galaxy_S21_R58M123ABC
ID_SERIAL_SHORT=R58M123ABC

ACTION=add
DEVNAME=/dev/nvme0n1p2
DEVTYPE=partition
ID_BUS=ata

ACTION=remove
DEVNAME=/dev/sdb1
DEVTYPE=partition
ID_BUS=usb
`

func TestReadEventsFiltersAndParses(t *testing.T) {
	var events []Event
	err := readEvents(context.Background(), strings.NewReader(sampleStream),
		func(ev Event) bool { return ev.IsMediaPartition() },
		func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)

	// The ata partition is filtered out; the usb add and remove survive.
	require.Len(t, events, 2)
	require.Equal(t, "add", events[0].Action)
	require.Equal(t, "/dev/sdb1", events[0].DevNode)
	require.Equal(t, "remove", events[1].Action)
}

func TestEventIdentityAccessors(t *testing.T) {
	var ev Event
	err := readEvents(context.Background(), strings.NewReader(sampleStream),
		func(e Event) bool { return e.Action == "add" && e.IsMediaPartition() },
		func(e Event) { ev = e })
	require.NoError(t, err)

	require.Equal(t, "SAMSUNG", ev.Vendor())
	require.Equal(t, "Galaxy_S21", ev.Model())
	require.Equal(t, "R58M123ABC", ev.Serial())
}

func TestReadEventsNilMatchPassesEverything(t *testing.T) {
	var n int
	err := readEvents(context.Background(), strings.NewReader(sampleStream),
		nil, func(Event) { n++ })
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
