package main

import (
	"fmt"
	"os"

	"github.com/hashborn/computechain/src/cmd/computechain/commands"
	"github.com/hashborn/computechain/src/common"
)

// Exit codes are a contract with the surrounding tooling: 0 success,
// 1 generic error, 2 invalid argument, 3 network error, 4 consensus or
// state error.
func exitCode(err error) int {
	ce, ok := err.(*common.CodedError)
	if !ok {
		return 1
	}
	switch ce.Code {
	case common.Malformed, common.InvalidAmount:
		return 2
	case common.Network, common.Timeout:
		return 3
	case common.InvalidNonce, common.StateRootMismatch, common.HeightMismatch,
		common.PrevHashMismatch, common.ProposerMismatch, common.GenesisMismatch:
		return 4
	default:
		return 1
	}
}

func main() {
	rootCmd := commands.RootCmd

	rootCmd.AddCommand(
		commands.NewRunCmd(),
		commands.NewKeygenCmd(),
		commands.NewGenesisCmd(),
		commands.NewVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
