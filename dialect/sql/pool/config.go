package pool

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the pool tunables. Zero durations disable the matching
// behavior.
type Config struct {
	// Dialect of the connections, used to restore catalog and schema.
	Dialect string `yaml:"dialect" validate:"omitempty,oneof=postgres mysql sqlite"`
	// MinSize is the number of connections Warm opens up front.
	MinSize int `yaml:"min_size" validate:"gte=0,ltefield=MaxSize"`
	// MaxSize caps live plus in-flight connections.
	MaxSize int `yaml:"max_size" validate:"gt=0"`
	// MinIdle is the number of idle connections the evictor keeps around.
	MinIdle int `yaml:"min_idle" validate:"gte=0,ltefield=MaxSize"`
	// MaxIdle caps the idle queue; 0 means MaxSize.
	MaxIdle int `yaml:"max_idle" validate:"gte=0"`
	// MaxWait bounds a single borrow attempt; <= 0 waits for the context.
	MaxWait time.Duration `yaml:"max_wait"`
	// IdleEvict destroys idle connections older than this, unconditionally.
	IdleEvict time.Duration `yaml:"idle_evict" validate:"gte=0"`
	// SoftIdleEvict destroys idle connections older than this while more
	// than MinIdle are idle.
	SoftIdleEvict time.Duration `yaml:"soft_idle_evict" validate:"gte=0"`
	// EvictionInterval is the evictor period.
	EvictionInterval time.Duration `yaml:"eviction_interval" validate:"gte=0"`
	// TestsPerEvictionRun bounds the idle connections examined per run; 0
	// examines all of them.
	TestsPerEvictionRun int `yaml:"tests_per_eviction_run" validate:"gte=0"`
	// ValidationQuery is run to validate a connection; PingContext is used
	// when empty.
	ValidationQuery string `yaml:"validation_query"`
	// ValidationTimeout bounds a validation.
	ValidationTimeout time.Duration `yaml:"validation_timeout" validate:"gte=0"`
	TestOnBorrow      bool          `yaml:"test_on_borrow"`
	TestWhileIdle     bool          `yaml:"test_while_idle"`
	// MaxLifetime rejects connections older than this on activation.
	MaxLifetime time.Duration `yaml:"max_lifetime" validate:"gte=0"`
	// RollbackOnReturn rolls back transactions left open by the borrower.
	RollbackOnReturn bool `yaml:"rollback_on_return"`
	// DefaultIsolation is applied by PooledConn.BeginTx when the caller
	// passes no options.
	DefaultIsolation string `yaml:"default_isolation" validate:"omitempty,oneof=default read_uncommitted read_committed repeatable_read serializable"`
	DefaultReadOnly  bool   `yaml:"default_read_only"`
	// DefaultCatalog is restored with USE on MySQL.
	DefaultCatalog string `yaml:"default_catalog"`
	// DefaultSchema is restored with SET search_path on Postgres.
	DefaultSchema string `yaml:"default_schema"`
	// ActivationRetries bounds how many reused connections a borrow may
	// discard on activation failure before giving up.
	ActivationRetries int `yaml:"activation_retries" validate:"gte=0"`
	// DisconnectionCodes are extra SQLSTATEs or MySQL error numbers that
	// mark a connection broken.
	DisconnectionCodes []string `yaml:"disconnection_codes"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxSize:             10,
		MinIdle:             0,
		MaxWait:             30 * time.Second,
		IdleEvict:           30 * time.Minute,
		SoftIdleEvict:       5 * time.Minute,
		EvictionInterval:    time.Minute,
		TestsPerEvictionRun: 3,
		ValidationTimeout:   5 * time.Second,
		TestWhileIdle:       true,
		RollbackOnReturn:    true,
		ActivationRetries:   3,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("pool: invalid config: %w", err)
	}
	return nil
}

// maxIdle returns the effective idle cap.
func (c Config) maxIdle() int {
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxSize {
		return c.MaxSize
	}
	return c.MaxIdle
}

// txOptions returns the transaction options applied by default.
func (c Config) txOptions() *sql.TxOptions {
	opts := &sql.TxOptions{ReadOnly: c.DefaultReadOnly}
	switch c.DefaultIsolation {
	case "read_uncommitted":
		opts.Isolation = sql.LevelReadUncommitted
	case "read_committed":
		opts.Isolation = sql.LevelReadCommitted
	case "repeatable_read":
		opts.Isolation = sql.LevelRepeatableRead
	case "serializable":
		opts.Isolation = sql.LevelSerializable
	}
	return opts
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("pool: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("pool: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
