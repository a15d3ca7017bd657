package commands

import (
	"github.com/spf13/cobra"

	"github.com/hashborn/computechain/src/computechain"
)

var _config = computechain.NewDefaultConfig()

// RootCmd is the root command for the computechain binary.
var RootCmd = &cobra.Command{
	Use:              "computechain",
	Short:            "ComputeChain proof-of-compute blockchain node",
	TraverseChildren: true,
}

func init() {
	RootCmd.PersistentFlags().StringP("datadir", "d", _config.DataDir, "Top-level directory for configuration and data")
}
