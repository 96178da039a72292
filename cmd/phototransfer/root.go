package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phototransfer/internal/config"
	"phototransfer/internal/device"
	"phototransfer/internal/index"
	"phototransfer/internal/pathutil"
	"phototransfer/internal/transferqueue"
	"phototransfer/internal/udev"
)

var (
	cfg     config.Config
	cfgFile string
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "phototransfer",
	Short: "Transfer photos and videos from a mounted phone to a local tree",
	Long: `phototransfer copies media off a mounted Android (MTP) or iOS (AFC)
device into a date-bucketed local tree, deduplicating byte-identical files
against a persistent SHA-256 index and verifying every transferred byte
before it is renamed into place. Queue state survives crashes; interrupted
runs resume with "phototransfer resume".`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, err := os.UserHomeDir()
			if err == nil {
				viper.AddConfigPath(home)
				viper.SetConfigType("yaml")
				viper.SetConfigName(".phototransfer")
			}
		}
		if err := viper.ReadInConfig(); err == nil {
			logger.Debug("using config file", "path", viper.ConfigFileUsed())
		}
		cfg = config.FromViper(viper.GetViper())
		return nil
	},
}

func init() {
	logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.phototransfer.yaml)")

	viper.SetEnvPrefix("PHOTOTRANSFER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config.Defaults(viper.GetViper())
	if err := config.BindFlags(viper.GetViper(), rootCmd.PersistentFlags()); err != nil {
		logger.Fatal("bind flags", "err", err)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so a Ctrl-C turns into a queue
// cancellation rather than a hard kill.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func indexPath() string {
	if cfg.IndexPath != "" {
		return pathutil.ExpandHome(cfg.IndexPath)
	}
	return filepath.Join(pathutil.ExpandHome(cfg.Destination), ".photo_transfer.db")
}

func statePath() string {
	if cfg.StatePath != "" {
		return pathutil.ExpandHome(cfg.StatePath)
	}
	return filepath.Join(pathutil.ExpandHome(cfg.Destination), ".photo_transfer.queue")
}

func openIndex() (*index.Index, error) {
	p := indexPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrap(transferqueue.ErrIndexError, err.Error())
	}
	ix, err := index.Open(p)
	if err != nil {
		return nil, errors.Wrap(transferqueue.ErrIndexError, err.Error())
	}
	return ix, nil
}

// newHandler builds and connects the configured device backend. With
// --wait-device set, an Android run first blocks on a udev USB-partition
// attach event to learn the device node and identity properties.
func newHandler(ctx context.Context) (device.Handler, error) {
	switch cfg.DeviceType {
	case "ios":
		h := device.NewIOSAFC(cfg.MountPoint, cfg.IOSUDID)
		if cfg.WaitDevice {
			logger.Info("waiting for device mount", "mount", cfg.MountPoint)
			if _, err := h.Detect(ctx); err != nil {
				return nil, err
			}
		}
		if _, err := h.Connect(ctx, ""); err != nil {
			return nil, err
		}
		return h, nil
	default:
		devNode := cfg.DevNode
		props := map[string]string{}
		if cfg.WaitDevice && devNode == "" {
			logger.Info("waiting for USB device attach")
			ev, err := udev.WaitForAttach(ctx)
			if err != nil {
				return nil, err
			}
			devNode = ev.DevNode
			props = ev.Props
			logger.Info("device attached",
				"node", devNode, "vendor", ev.Vendor(), "model", ev.Model())
		}
		h := device.NewAndroidMTP(cfg.MountPoint, devNode, props)
		if _, err := h.Connect(ctx, ""); err != nil {
			return nil, err
		}
		return h, nil
	}
}
