package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames inside the data directory.
const (
	// DefaultKeyfile is the file containing the validator's private key.
	DefaultKeyfile = "keys/validator_key"

	// DefaultGenesisFile is the shared genesis document.
	DefaultGenesisFile = "genesis.json"

	// DefaultBlocksDir is the Badger database holding the chain.
	DefaultBlocksDir = "blocks.db"

	// DefaultStateDir is the Badger database holding the latest state.
	DefaultStateDir = "state.db"

	// DefaultSnapshotsDir holds the gzipped state snapshots.
	DefaultSnapshotsDir = "snapshots"
)

// Default configuration values.
const (
	DefaultLogLevel       = "info"
	DefaultBindAddr       = "127.0.0.1:26600"
	DefaultServiceAddr    = "127.0.0.1:26610"
	DefaultPeerIOTimeout  = 5 * time.Second
	DefaultMaxSlotTimeout = 2 * time.Second
	DefaultSyncBatch      = 50
	// DefaultSnapshotSyncThreshold is how far behind a peer's tip the node
	// falls back to snapshot bootstrap instead of block-range sync.
	DefaultSnapshotSyncThreshold = 1000
)

// Config contains all the configuration properties of a ComputeChain node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output to a file.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port for peer sessions.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is the address advertised to other nodes when BindAddr
	// is not routable.
	AdvertiseAddr string `mapstructure:"advertise"`

	// ServiceAddr is the address:port of the HTTP API.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API.
	NoService bool `mapstructure:"no-service"`

	// Join is a comma-separated list of peer addresses to dial at startup,
	// in addition to the persisted peer list.
	Join string `mapstructure:"join"`

	// Store activates persistent storage; without it the node runs fully
	// in memory.
	Store bool `mapstructure:"store"`

	// PeerIOTimeout bounds peer reads and writes.
	PeerIOTimeout time.Duration `mapstructure:"timeout"`

	// MaxSlotTimeout is the grace period past the slot boundary before the
	// chain moves on without the designated proposer.
	MaxSlotTimeout time.Duration `mapstructure:"slot-timeout"`

	// SyncBatch is the number of blocks requested per GetBlocks.
	SyncBatch int `mapstructure:"sync-batch"`

	// SnapshotSyncThreshold is the tip distance beyond which sync falls
	// back to a snapshot bootstrap.
	SnapshotSyncThreshold uint64 `mapstructure:"snapshot-sync-threshold"`

	// Key is the validator private key, loaded from the keyfile. Nodes
	// without a key run as passive observers.
	Key *ecdsa.PrivateKey `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:               DefaultDataDir(),
		LogLevel:              DefaultLogLevel,
		BindAddr:              DefaultBindAddr,
		ServiceAddr:           DefaultServiceAddr,
		PeerIOTimeout:         DefaultPeerIOTimeout,
		MaxSlotTimeout:        DefaultMaxSlotTimeout,
		SyncBatch:             DefaultSyncBatch,
		SnapshotSyncThreshold: DefaultSnapshotSyncThreshold,
	}
}

// SetDataDir sets the top-level directory.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
}

// Keyfile returns the full path of the validator key file.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// GenesisFile ...
func (c *Config) GenesisFile() string {
	return filepath.Join(c.DataDir, DefaultGenesisFile)
}

// BlocksDir ...
func (c *Config) BlocksDir() string {
	return filepath.Join(c.DataDir, DefaultBlocksDir)
}

// StateDir ...
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, DefaultStateDir)
}

// SnapshotsDir ...
func (c *Config) SnapshotsDir() string {
	return filepath.Join(c.DataDir, DefaultSnapshotsDir)
}

// Logger returns a formatted logrus Entry with the computechain prefix.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, lvl := range logrus.AllLevels {
				pathMap[lvl] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "computechain")
}

// DefaultDataDir returns the default top-level directory based on the
// underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".ComputeChain")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "ComputeChain")
		}
		return filepath.Join(home, ".computechain")
	}
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a logrus level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}
