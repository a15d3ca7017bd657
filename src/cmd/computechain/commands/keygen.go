package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
)

var keyFile string

// NewKeygenCmd produces a command that creates a validator key pair.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new validator key pair",
		RunE:  keygen,
	}

	cmd.Flags().StringVar(&keyFile, "key", _config.Keyfile(), "File where the private key will be written")
	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyFile); err == nil {
		return fmt.Errorf("a key already lives under: %s", path.Dir(keyFile))
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return fmt.Errorf("generating ECDSA key: %s", err)
	}

	keyfile := keys.NewSimpleKeyfile(keyFile)
	if err := keyfile.WriteKey(key); err != nil {
		return fmt.Errorf("writing private key: %s", err)
	}

	pub := keys.FromPublicKey(&key.PublicKey)

	accountAddr, err := crypto.AddressFromPubKey(pub, crypto.PrefixAccount)
	if err != nil {
		return err
	}
	consAddr, err := crypto.AddressFromPubKey(pub, crypto.PrefixConsensus)
	if err != nil {
		return err
	}

	fmt.Printf("Private key saved to: %s\n", keyFile)
	fmt.Printf("Account address:     %s\n", accountAddr)
	fmt.Printf("Consensus address:   %s\n", consAddr)

	return nil
}
