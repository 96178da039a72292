// Package config binds the transfer engine's settings from flags,
// environment, and an optional config file, with viper supplying the
// precedence order (flag > env > file > default).
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// Destination is the local root the date-bucketed tree grows under.
	Destination string
	// StatePath is where the queue persists its recoverable state.
	StatePath string
	// IndexPath overrides the default <dest>/.photo_transfer.db location.
	IndexPath string

	// Device backend selection.
	DeviceType string // "android" or "ios"
	MountPoint string
	DevNode    string
	IOSUDID    string
	WaitDevice bool

	// Queue behavior.
	MaxRetries                  int
	PausePollInterval           time.Duration
	OnlyNew                     bool
	SweepStalePartFiles         bool
	DeleteFromDeviceAfterVerify bool

	// Remote mirror (optional; disabled while Bucket is empty).
	Bucket       string
	ObjectPrefix string
	CredsJSON    string
}

// Defaults registers every setting with its default value.
func Defaults(v *viper.Viper) {
	v.SetDefault("destination", "~/Pictures/PhonePhotos")
	v.SetDefault("state_path", "")
	v.SetDefault("index_path", "")
	v.SetDefault("device_type", "android")
	v.SetDefault("mount_point", "/mnt/phone")
	v.SetDefault("dev_node", "")
	v.SetDefault("ios_udid", "")
	v.SetDefault("wait_device", false)
	v.SetDefault("max_retries", 3)
	v.SetDefault("pause_poll_interval", 100*time.Millisecond)
	v.SetDefault("only_new", false)
	v.SetDefault("sweep_stale_part_files", true)
	v.SetDefault("delete_from_device_after_verify", false)
	v.SetDefault("bucket", "")
	v.SetDefault("object_prefix", "phototransfer")
	v.SetDefault("creds_json", "")
}

// BindFlags wires the command's flag set into v so explicitly-set flags
// win over env and file values.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("dest", "", "destination root for transferred media")
	fs.String("state", "", "queue state file path")
	fs.String("index", "", "index database path (default <dest>/.photo_transfer.db)")
	fs.String("device", "", "device backend: android or ios")
	fs.String("mount", "", "device mount point")
	fs.String("dev-node", "", "block device node to mount (android)")
	fs.String("udid", "", "device UDID (ios)")
	fs.Bool("wait-device", false, "wait for the device to appear before connecting")
	fs.Int("max-retries", 3, "per-item retry budget")
	fs.Bool("only-new", false, "transfer only items newer than the last sync")
	fs.String("bucket", "", "GCS bucket for the optional remote mirror")
	fs.String("prefix", "", "object key prefix for the remote mirror")
	fs.String("creds", "", "service account JSON for the remote mirror")

	for flag, key := range map[string]string{
		"dest":        "destination",
		"state":       "state_path",
		"index":       "index_path",
		"device":      "device_type",
		"mount":       "mount_point",
		"dev-node":    "dev_node",
		"udid":        "ios_udid",
		"wait-device": "wait_device",
		"max-retries": "max_retries",
		"only-new":    "only_new",
		"bucket":      "bucket",
		"prefix":      "object_prefix",
		"creds":       "creds_json",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// FromViper materializes the flat Config struct.
func FromViper(v *viper.Viper) Config {
	return Config{
		Destination:                 v.GetString("destination"),
		StatePath:                   v.GetString("state_path"),
		IndexPath:                   v.GetString("index_path"),
		DeviceType:                  v.GetString("device_type"),
		MountPoint:                  v.GetString("mount_point"),
		DevNode:                     v.GetString("dev_node"),
		IOSUDID:                     v.GetString("ios_udid"),
		WaitDevice:                  v.GetBool("wait_device"),
		MaxRetries:                  v.GetInt("max_retries"),
		PausePollInterval:           v.GetDuration("pause_poll_interval"),
		OnlyNew:                     v.GetBool("only_new"),
		SweepStalePartFiles:         v.GetBool("sweep_stale_part_files"),
		DeleteFromDeviceAfterVerify: v.GetBool("delete_from_device_after_verify"),
		Bucket:                      v.GetString("bucket"),
		ObjectPrefix:                v.GetString("object_prefix"),
		CredsJSON:                   v.GetString("creds_json"),
	}
}
