// Package device defines the abstract Device Handler the transfer engine
// consumes, plus two concrete backends (Android-MTP and iOS-AFC) that
// operate against a mounted filesystem view of the device rather than
// binding a native MTP/AFC library directly.
package device

import (
	"context"

	"phototransfer/internal/model"
)

// Handler is the trait the Transfer Queue and Sync Planner hold the device
// through. The queue borrows a Handler by reference; the queue's lifetime
// must not exceed the handler's.
type Handler interface {
	Detect(ctx context.Context) (bool, error)
	Connect(ctx context.Context, name string) (bool, error)
	Disconnect()
	IsConnected() bool

	DeviceName() string
	Manufacturer() string
	Model() string
	Type() string

	Storages() ([]model.StorageInfo, error)
	Enumerate(ctx context.Context, subpath string) ([]model.MediaInfo, error)
	Read(objectID uint32) ([]byte, error)
	Exists(objectID uint32) bool

	LastError() string
}

// Writer is an optional capability: handlers that can delete a file from
// the device implement it. The core only calls it when
// Config.DeleteFromDeviceAfterVerify is set, and only after an item has
// reached StatusCompleted with a verified on-disk hash.
type Writer interface {
	Delete(objectID uint32) error
}
