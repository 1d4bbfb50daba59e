package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/src/common"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key.
	DefaultKeyfile = "priv_key"

	// DefaultStateFile is the default name of the file containing the
	// persisted collective state.
	DefaultStateFile = "state.json"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database used for the consensus history.
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultEnabled             = true
	DefaultBindAddr            = "127.0.0.1:1337"
	DefaultServiceAddr         = "127.0.0.1:8000"
	DefaultHeartbeatInterval   = 10 * time.Second
	DefaultEmpathySyncInterval = 30 * time.Second
	DefaultDecayInterval       = 1 * time.Hour
	DefaultCleanupInterval     = 1 * time.Minute
	DefaultPersistInterval     = 5 * time.Minute
	DefaultHistoryLimit        = 1000
	DefaultStore               = false
	DefaultAutoRemediation     = false
	DefaultPeerRetention       = 0
)

// Config contains all the configuration properties of an opsmesh node.
type Config struct {
	// DataDir is the top-level directory containing opsmesh configuration and
	// data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Enabled determines whether the node participates in the collective at
	// all. When false, no networking is performed and all queries report the
	// disabled status.
	Enabled bool `mapstructure:"enabled"`

	// BindAddr is the local address:port where this node gossips with other
	// nodes.
	BindAddr string `mapstructure:"listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// HeartbeatInterval is the frequency at which the node re-announces its
	// liveness to known peers.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`

	// EmpathySyncInterval is the frequency at which the node gossips its own
	// wellbeing metrics.
	EmpathySyncInterval time.Duration `mapstructure:"empathy-sync"`

	// DecayInterval is the frequency of the trust-decay background task.
	DecayInterval time.Duration `mapstructure:"decay-interval"`

	// CleanupInterval is the frequency of the consensus timeout-cleanup
	// background task.
	CleanupInterval time.Duration `mapstructure:"cleanup-interval"`

	// PersistInterval is the frequency at which the collective state is
	// reconciled and written to disk.
	PersistInterval time.Duration `mapstructure:"persist-interval"`

	// AutoRemediation allows network-approved remediations to be applied
	// automatically. When false, only ManualReview actions get through the
	// policy gate.
	AutoRemediation bool `mapstructure:"auto-remediation"`

	// Store activates the Badger-backed consensus history instead of the
	// in-memory one.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// HistoryLimit is the max number of completed consensus records kept in
	// the bounded history.
	HistoryLimit int `mapstructure:"history-limit"`

	// PeerRetention is how long a disconnected peer is kept in the peer table
	// before being pruned. Zero means peers are never pruned; this is the
	// default. Trust ledger entries are never pruned.
	PeerRetention time.Duration `mapstructure:"peer-retention"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:             DefaultDataDir(),
		LogLevel:            DefaultLogLevel,
		Enabled:             DefaultEnabled,
		BindAddr:            DefaultBindAddr,
		ServiceAddr:         DefaultServiceAddr,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		EmpathySyncInterval: DefaultEmpathySyncInterval,
		DecayInterval:       DefaultDecayInterval,
		CleanupInterval:     DefaultCleanupInterval,
		PersistInterval:     DefaultPersistInterval,
		HistoryLimit:        DefaultHistoryLimit,
		Store:               DefaultStore,
		AutoRemediation:     DefaultAutoRemediation,
		DatabaseDir:         DefaultDatabaseDir(),
		PeerRetention:       DefaultPeerRetention,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level opsmesh directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// StateFile returns the full path of the persisted collective state file.
func (c *Config) StateFile() string {
	return filepath.Join(c.DataDir, DefaultStateFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "opsmesh".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "opsmesh")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level opsmesh
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Opsmesh")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Opsmesh")
		} else {
			return filepath.Join(home, ".opsmesh")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
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

// LogLevel parses a string into a Logrus log level.
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
		return logrus.DebugLevel
	}
}
