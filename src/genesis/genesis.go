// Package genesis defines the genesis document shared by every node of a
// network. All nodes MUST start from a byte-identical genesis; the hash of
// its canonical encoding is the network identity used to gate peer
// sessions.
package genesis

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"sort"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/types"
)

// Params are the network consensus parameters. Rates are basis points;
// scores are micros. Everything here is consensus-relevant and hashed into
// the network identity.
type Params struct {
	BlockTimeSeconds  uint64
	EpochLengthBlocks uint64
	MaxValidators     int

	MinValidatorStake types.Amount
	MinDelegation     types.Amount
	MaxCommissionBps  uint32

	UnjailFee          types.Amount
	JailDurationBlocks uint64
	// SlashingBaseBps is the first-offence slashing rate. The second
	// offence doubles it; the third takes everything.
	SlashingBaseBps           uint32
	EjectionThresholdJails    uint32
	MaxMissedBlocksSequential uint64
	MinUptimeMicros           uint64
	JailUnstakePenaltyBps     uint32

	UnbondingBlocks uint64

	BlockReward         types.Amount
	HalvingPeriodBlocks uint64
	MinerRewardBps      uint32
	ValidatorFeeBps     uint32
	TreasuryFeeBps      uint32
	MaxValidatorReward  types.Amount
	MaxMinerReward      types.Amount

	MinGasPrice      uint64
	MaxTxPerBlock    int
	BlockGasLimit    uint64
	MempoolTxTTLSecs uint64
	MaxTxPerSender   int

	SnapshotIntervalBlocks uint64
	SnapshotKeep           int

	MaxValidatorsPerDelegator int
	MaxValidatorPowerShareBps uint32
}

// InitialValidator seeds the validator set at height 0.
type InitialValidator struct {
	ConsensusAddr string
	OperatorAddr  string
	PubKey        []byte
	SelfStake     types.Amount
	Name          string
}

// InitialAccount seeds the ledger at height 0.
type InitialAccount struct {
	Address string
	Balance types.Amount
	PubKey  []byte
}

// Genesis is the network's founding document.
type Genesis struct {
	NetworkID         string
	GenesisTime       int64
	Params            Params
	InitialValidators []InitialValidator
	InitialAccounts   []InitialAccount
}

// TreasuryAddress is the fixed address of the community treasury. It is a
// plain account; the fee split credits it directly.
const TreasuryAddress = "cpc1treasury0000000000000000000000000000"

// Hash returns the canonical hash that identifies the network. The
// validator and account lists are sorted before encoding so that cosmetic
// re-orderings of the JSON file do not split the network.
func (g *Genesis) Hash() []byte {
	c := *g
	c.InitialValidators = append([]InitialValidator(nil), g.InitialValidators...)
	sort.Slice(c.InitialValidators, func(i, j int) bool {
		return c.InitialValidators[i].ConsensusAddr < c.InitialValidators[j].ConsensusAddr
	})
	c.InitialAccounts = append([]InitialAccount(nil), g.InitialAccounts...)
	sort.Slice(c.InitialAccounts, func(i, j int) bool {
		return c.InitialAccounts[i].Address < c.InitialAccounts[j].Address
	})
	return crypto.SHA256(types.MustEncode(&c))
}

// Supply returns the total token supply granted at genesis: account
// balances plus validator self-stakes.
func (g *Genesis) Supply() types.Amount {
	total := types.ZeroAmount()
	for _, a := range g.InitialAccounts {
		total = total.Add(a.Balance)
	}
	for _, v := range g.InitialValidators {
		total = total.Add(v.SelfStake)
	}
	return total
}

// Validate performs structural checks before the document is installed.
func (g *Genesis) Validate() error {
	if g.NetworkID == "" {
		return common.NewError(common.Malformed, "genesis: empty network id")
	}
	if g.GenesisTime <= 0 {
		return common.NewError(common.Malformed, "genesis: missing genesis time")
	}
	if g.Params.BlockTimeSeconds == 0 {
		return common.NewError(common.Malformed, "genesis: zero block time")
	}
	if g.Params.EpochLengthBlocks == 0 {
		return common.NewError(common.Malformed, "genesis: zero epoch length")
	}
	if g.Params.ValidatorFeeBps+g.Params.TreasuryFeeBps > types.BpsDenom {
		return common.NewError(common.Malformed, "genesis: fee split exceeds 100%%")
	}
	if g.Params.MinerRewardBps > types.BpsDenom {
		return common.NewError(common.Malformed, "genesis: miner reward share exceeds 100%%")
	}
	seen := map[string]bool{}
	for _, v := range g.InitialValidators {
		if !crypto.ValidAddress(v.ConsensusAddr, crypto.PrefixConsensus) {
			return common.NewError(common.Malformed, "genesis: bad consensus address %s", v.ConsensusAddr)
		}
		if !crypto.ValidAddress(v.OperatorAddr, crypto.PrefixAccount) {
			return common.NewError(common.Malformed, "genesis: bad operator address %s", v.OperatorAddr)
		}
		if seen[v.ConsensusAddr] {
			return common.NewError(common.Malformed, "genesis: duplicate validator %s", v.ConsensusAddr)
		}
		seen[v.ConsensusAddr] = true
	}
	return nil
}

// Load reads and validates a genesis document from a JSON file.
func Load(path string) (*Genesis, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, common.NewError(common.Storage, "genesis: %v", err)
	}

	var g Genesis
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&g); err != nil {
		return nil, common.NewError(common.Malformed, "genesis: %v", err)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return &g, nil
}

// Write persists the genesis document as indented JSON.
func (g *Genesis) Write(path string) error {
	buf, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return common.NewError(common.EncodingError, "genesis: %v", err)
	}
	if err := ioutil.WriteFile(path, buf, 0644); err != nil {
		return common.NewError(common.Storage, "genesis: %v", err)
	}
	return nil
}

// DefaultParams returns the devnet parameter set.
func DefaultParams() Params {
	return Params{
		BlockTimeSeconds:  5,
		EpochLengthBlocks: 10,
		MaxValidators:     5,

		MinValidatorStake: types.CPC(1000),
		MinDelegation:     types.CPC(100),
		MaxCommissionBps:  2000,

		UnjailFee:                 types.CPC(1000),
		JailDurationBlocks:        100,
		SlashingBaseBps:           500,
		EjectionThresholdJails:    3,
		MaxMissedBlocksSequential: 20,
		MinUptimeMicros:           750000,
		JailUnstakePenaltyBps:     1000,

		UnbondingBlocks: 100,

		BlockReward:         types.CPC(10),
		HalvingPeriodBlocks: 1000000,
		MinerRewardBps:      3000,
		ValidatorFeeBps:     9000,
		TreasuryFeeBps:      1000,
		MaxValidatorReward:  types.CPC(7),
		MaxMinerReward:      types.CPC(3),

		MinGasPrice:      1000,
		MaxTxPerBlock:    500,
		BlockGasLimit:    50000000,
		MempoolTxTTLSecs: 3600,
		MaxTxPerSender:   64,

		SnapshotIntervalBlocks: 1000,
		SnapshotKeep:           10,

		MaxValidatorsPerDelegator: 10,
		MaxValidatorPowerShareBps: 2000,
	}
}
