package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashborn/computechain/src/computechain"
)

// NewRunCmd produces the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlagsLoadViper(cmd)
		},
		RunE: runNode,
	}

	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for peer sessions")
	cmd.Flags().String("advertise", _config.AdvertiseAddr, "Advertise IP:Port when the bind address is not routable")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for the HTTP API")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP API")
	cmd.Flags().StringP("join", "j", _config.Join, "Comma-separated peer addresses to dial at startup")
	cmd.Flags().Bool("store", _config.Store, "Use persistent on-disk storage")
	cmd.Flags().String("log", _config.LogLevel, "Log level (debug, info, warn, error, fatal, panic)")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output to a file")
	cmd.Flags().DurationP("timeout", "t", _config.PeerIOTimeout, "Peer I/O timeout")
	cmd.Flags().Duration("slot-timeout", _config.MaxSlotTimeout, "Grace period past the slot boundary")
	cmd.Flags().Int("sync-batch", _config.SyncBatch, "Blocks per sync request")
	cmd.Flags().Uint64("snapshot-sync-threshold", _config.SnapshotSyncThreshold, "Tip distance that triggers snapshot bootstrap")
}

// bindFlagsLoadViper binds all flags and reads an optional
// computechain.toml from the data directory.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	viper.SetConfigName("computechain")
	viper.AddConfigPath(viper.GetString("datadir"))

	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().WithField("file", viper.ConfigFileUsed()).Debug("Using config file")
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	return viper.Unmarshal(&_config.Config)
}

func runNode(cmd *cobra.Command, args []string) error {
	_config.SetDataDir(viper.GetString("datadir"))

	logger := _config.Logger()
	logger.WithFields(logrus.Fields{
		"datadir":        _config.DataDir,
		"listen":         _config.BindAddr,
		"service-listen": _config.ServiceAddr,
		"store":          _config.Store,
		"log":            _config.LogLevel,
	}).Debug("RUN")

	engine := computechain.NewEngine(_config)

	if err := engine.Init(); err != nil {
		return err
	}

	engine.Run()
	return nil
}
