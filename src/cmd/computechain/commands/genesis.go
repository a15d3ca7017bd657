package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

var (
	genesisNetworkID string
	genesisOut       string
)

// NewGenesisCmd produces a command that writes a devnet genesis document
// seeded with a faucet account and, when a validator key exists, this
// node's validator.
func NewGenesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Write a devnet genesis file",
		RunE:  genesisInit,
	}

	cmd.Flags().StringVar(&genesisNetworkID, "network", "cpc-devnet-1", "Network identifier")
	cmd.Flags().StringVar(&genesisOut, "out", "", "Output path (defaults to <datadir>/genesis.json)")
	return cmd
}

func genesisInit(cmd *cobra.Command, args []string) error {
	out := genesisOut
	if out == "" {
		out = _config.GenesisFile()
	}

	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("genesis already exists: %s", out)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}

	g := &genesis.Genesis{
		NetworkID:   genesisNetworkID,
		GenesisTime: time.Now().Unix(),
		Params:      genesis.DefaultParams(),
	}

	// Faucet account funded with the devnet premine.
	faucetKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return err
	}
	faucetPub := keys.FromPublicKey(&faucetKey.PublicKey)
	faucetAddr, err := crypto.AddressFromPubKey(faucetPub, crypto.PrefixAccount)
	if err != nil {
		return err
	}
	g.InitialAccounts = append(g.InitialAccounts, genesis.InitialAccount{
		Address: faucetAddr,
		Balance: types.CPC(1000000000),
		PubKey:  faucetPub,
	})

	// Seed this node's validator when a key is present.
	if key, err := keys.NewSimpleKeyfile(_config.Keyfile()).ReadKey(); err == nil {
		pub := keys.FromPublicKey(&key.PublicKey)
		consAddr, err := crypto.AddressFromPubKey(pub, crypto.PrefixConsensus)
		if err != nil {
			return err
		}
		operAddr, err := crypto.AddressFromPubKey(pub, crypto.PrefixAccount)
		if err != nil {
			return err
		}
		g.InitialValidators = append(g.InitialValidators, genesis.InitialValidator{
			ConsensusAddr: consAddr,
			OperatorAddr:  operAddr,
			PubKey:        pub,
			SelfStake:     g.Params.MinValidatorStake,
			Name:          "genesis-validator",
		})
		g.InitialAccounts = append(g.InitialAccounts, genesis.InitialAccount{
			Address: operAddr,
			Balance: types.CPC(10000),
			PubKey:  pub,
		})
	}

	if err := g.Write(out); err != nil {
		return err
	}

	fmt.Printf("Genesis written to:   %s\n", out)
	fmt.Printf("Network identity:     %s\n", common.EncodeToString(g.Hash()))
	fmt.Printf("Faucet address:       %s\n", faucetAddr)
	fmt.Printf("Faucet private key:   %s\n", keys.PrivateKeyHex(faucetKey))
	fmt.Println("Distribute this exact file to every node of the network.")

	return nil
}
