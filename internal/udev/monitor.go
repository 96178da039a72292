// Package udev surfaces device attach/detach events from udevadm. The
// CLI's --wait-device mode uses it to discover the phone's block node and
// identity properties before mounting, and the identity accessors feed
// the device-label cascade used for logging.
package udev

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Event is one udev device event plus the identity properties the
// transfer engine cares about.
type Event struct {
	Action  string            // add/remove
	DevNode string            // /dev/sda1
	Props   map[string]string // key=value from udev
}

// Vendor and Model come straight from the USB descriptor strings; Serial
// prefers the short form udev derives from it.
func (e Event) Vendor() string { return e.Props["ID_VENDOR"] }
func (e Event) Model() string  { return e.Props["ID_MODEL"] }

func (e Event) Serial() string {
	if s := e.Props["ID_SERIAL_SHORT"]; s != "" {
		return s
	}
	return e.Props["ID_SERIAL"]
}

// IsMediaPartition reports whether the event describes a USB storage
// partition of the kind a phone in mass-storage/MTP-gadget mode exposes.
func (e Event) IsMediaPartition() bool {
	return e.Props["ID_BUS"] == "usb" && e.Props["DEVTYPE"] == "partition"
}

// Monitor streams udevadm block events, invoking onEvent for every event
// that passes match. A nil match passes everything. Returns when ctx is
// cancelled or the udevadm stream ends.
func Monitor(ctx context.Context, match func(Event) bool, onEvent func(Event)) error {
	cmd := exec.CommandContext(ctx,
		"udevadm",
		"monitor",
		"--udev",
		"--subsystem-match=block",
		"--property",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	defer cmd.Wait()

	if err := readEvents(ctx, stdout, match, onEvent); err != nil {
		return err
	}
	return ctx.Err()
}

// readEvents parses the udevadm property stream: events arrive as runs of
// key=value lines terminated by a blank line.
func readEvents(ctx context.Context, r io.Reader, match func(Event) bool, onEvent func(Event)) error {
	sc := bufio.NewScanner(r)
	props := map[string]string{}

	emit := func() {
		if len(props) == 0 {
			return
		}
		ev := Event{
			Action:  props["ACTION"],
			DevNode: props["DEVNAME"],
			Props:   props,
		}
		props = map[string]string{}
		if match == nil || match(ev) {
			onEvent(ev)
		}
	}

	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			emit()
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	emit()
	return sc.Err()
}

// WaitForAttach blocks until a USB media partition is plugged in,
// returning its attach event.
func WaitForAttach(ctx context.Context) (Event, error) {
	attached := func(ev Event) bool {
		return ev.Action == "add" && ev.IsMediaPartition()
	}

	found := make(chan Event, 1)
	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- Monitor(monCtx, attached, func(ev Event) {
			select {
			case found <- ev:
			default:
			}
		})
	}()

	select {
	case ev := <-found:
		cancel()
		<-errc
		return ev, nil
	case err := <-errc:
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
		if err == nil {
			err = errors.New("udev monitor stream ended before a device attached")
		}
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
