// Package queuestate implements the bit-exact Queue State Codec: the
// pipe-delimited text format the Transfer Queue uses to persist and
// recover its item list across process restarts.
package queuestate

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"phototransfer/internal/model"
)

const header = "# PhotoTransfer Queue State v1.0"

// State is the decoded form of a queue-state file: a destination directory
// plus the item list (IN_PROGRESS items already demoted to PENDING).
type State struct {
	Destination string
	Items       []model.TransferItem
}

// Save writes state to path. Refuses to write if any filename contains
// the field separator '|', since fields do not escape embedded
// separators.
func Save(path string, state State, generatedAt int64) error {
	for _, it := range state.Items {
		if strings.Contains(it.Media.Filename, "|") {
			return errors.Errorf("queue state: filename %q contains field separator", it.Media.Filename)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "queue state save")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s\n", header)
	fmt.Fprintf(w, "# Generated: %d\n", generatedAt)
	fmt.Fprintf(w, "destination:%s\n", state.Destination)

	for _, it := range state.Items {
		fmt.Fprintf(w, "%d|%d|%s|%s|%d|%d|%s|%s|%s\n",
			int(it.Status),
			it.Media.ObjectID,
			it.Media.Filename,
			it.Media.DevicePath,
			it.Media.Size,
			it.BytesTransferred,
			it.LocalPath,
			it.TempPath,
			it.Hash,
		)
	}

	return errors.Wrap(w.Flush(), "queue state save")
}

// Load reads path. A missing file is not an error — it yields an empty
// State (empty queue). The first non-empty line must be the header, or the
// load fails. Malformed item lines (fewer than nine fields) are dropped and
// reported back in warnings rather than failing the load; comment lines
// other than the header are ignored.
func Load(path string) (State, []string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return State{}, nil, nil
	}
	if err != nil {
		return State{}, nil, errors.Wrap(err, "queue state load")
	}
	defer f.Close()

	var state State
	var warnings []string
	lineNo := 0
	sawHeader := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != header {
				return State{}, nil, errors.Errorf("queue state load: line %d: missing header %q", lineNo, header)
			}
			sawHeader = true
			continue
		}
		if strings.HasPrefix(line, "destination:") {
			state.Destination = strings.TrimPrefix(line, "destination:")
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		item, ok := parseItemLine(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("line %d: malformed item row, dropped", lineNo))
			continue
		}
		state.Items = append(state.Items, item)
	}
	if err := sc.Err(); err != nil {
		return state, warnings, errors.Wrap(err, "queue state load")
	}

	return state, warnings, nil
}

func parseItemLine(line string) (model.TransferItem, bool) {
	fields := strings.Split(line, "|")
	if len(fields) < 9 {
		return model.TransferItem{}, false
	}

	statusInt, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.TransferItem{}, false
	}
	objectID, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return model.TransferItem{}, false
	}
	size, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return model.TransferItem{}, false
	}
	bytesTransferred, err := strconv.ParseUint(fields[5], 10, 64)
	if err != nil {
		return model.TransferItem{}, false
	}

	status := model.Status(statusInt)
	// IN_PROGRESS items are demoted to PENDING so resumption re-reads the source.
	if status == model.StatusInProgress {
		status = model.StatusPending
	}

	return model.TransferItem{
		Status:           status,
		BytesTransferred: bytesTransferred,
		LocalPath:        fields[6],
		TempPath:         fields[7],
		Hash:             fields[8],
		Media: model.MediaInfo{
			ObjectID:   uint32(objectID),
			Filename:   fields[2],
			DevicePath: fields[3],
			Size:       size,
		},
	}, true
}
