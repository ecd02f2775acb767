package reconf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxKeyGroupsLimit bounds MaxKeyGroups; key groups are tracked in per-instance slices.
const maxKeyGroupsLimit = 32768

// ExecutorConfig configures the NATS request/reply transport to the task executors.
type ExecutorConfig struct {
	// SubjectPrefix is prepended to every phase command subject,
	// e.g. "reconf.exec" produces "reconf.exec.prepare".
	SubjectPrefix string `yaml:"subjectPrefix"`

	// RequestTimeout bounds a single phase call.
	// A phase that does not answer in time fails the reconfiguration.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// KVBucketConfig configures NATS JetStream KV bucket names.
type KVBucketConfig struct {
	// ElectionBucket is the bucket name for leader election.
	ElectionBucket string `yaml:"electionBucket"`

	// PlanBucket is the bucket name for committed execution plan snapshots.
	PlanBucket string `yaml:"planBucket"`

	// PlanKey is the key of the plan snapshot inside PlanBucket.
	// Jobs sharing a bucket need distinct keys.
	PlanKey string `yaml:"planKey"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// CandidateID identifies this node in the election. Must be unique per node.
	CandidateID string `yaml:"candidateId"`

	// Address is the serving address published once this node's coordinator is ready.
	Address string `yaml:"address"`

	// MaxKeyGroups is the fixed key-group count of the job.
	// It cannot change for the lifetime of a job.
	MaxKeyGroups int `yaml:"maxKeyGroups"`

	// OperationTimeout is the timeout for KV operations (get, put, delete).
	// Recommended: 10 seconds.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ElectionTimeout is the leadership lease. The lease is renewed every third of it,
	// so a crashed leader is replaced after at most ElectionTimeout.
	// Recommended: 5 seconds.
	ElectionTimeout time.Duration `yaml:"electionTimeout"`

	// StartupTimeout bounds a coordinator's Start, including plan recovery.
	// Recommended: 30 seconds.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including the teardown of the active coordinator.
	// Recommended: 60 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Executor configures the phase transport.
	Executor ExecutorConfig `yaml:"executor"`

	// KVBuckets controls NATS JetStream KV bucket configuration.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// CandidateID and Address are left empty; NewManager fills CandidateID with
// the host name when it is unset.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		MaxKeyGroups:     128,
		OperationTimeout: 10 * time.Second,
		ElectionTimeout:  5 * time.Second,
		StartupTimeout:   30 * time.Second,
		ShutdownTimeout:  60 * time.Second,
		Executor: ExecutorConfig{
			SubjectPrefix:  "reconf.exec",
			RequestTimeout: 30 * time.Second,
		},
		KVBuckets: KVBucketConfig{
			ElectionBucket: "reconf-election",
			PlanBucket:     "reconf-plan",
			PlanKey:        "plan",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.CandidateID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.CandidateID = host
		}
	}
	if cfg.MaxKeyGroups == 0 {
		cfg.MaxKeyGroups = defaults.MaxKeyGroups
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = defaults.ElectionTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Executor.SubjectPrefix == "" {
		cfg.Executor.SubjectPrefix = defaults.Executor.SubjectPrefix
	}
	if cfg.Executor.RequestTimeout == 0 {
		cfg.Executor.RequestTimeout = defaults.Executor.RequestTimeout
	}
	if cfg.KVBuckets.ElectionBucket == "" {
		cfg.KVBuckets.ElectionBucket = defaults.KVBuckets.ElectionBucket
	}
	if cfg.KVBuckets.PlanBucket == "" {
		cfg.KVBuckets.PlanBucket = defaults.KVBuckets.PlanBucket
	}
	if cfg.KVBuckets.PlanKey == "" {
		cfg.KVBuckets.PlanKey = defaults.KVBuckets.PlanKey
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - CandidateID is set
//   - 1 <= MaxKeyGroups <= 32768
//   - ElectionTimeout >= 1s (the lease is renewed every ElectionTimeout/3)
//   - Executor.RequestTimeout > 0
//   - ShutdownTimeout >= Executor.RequestTimeout (an in-flight phase can drain)
//   - bucket names and the plan key are set
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.CandidateID == "" {
		return fmt.Errorf("%w: CandidateID is required", ErrInvalidConfig)
	}

	if cfg.MaxKeyGroups < 1 || cfg.MaxKeyGroups > maxKeyGroupsLimit {
		return fmt.Errorf("%w: MaxKeyGroups (%d) must be in [1, %d]",
			ErrInvalidConfig, cfg.MaxKeyGroups, maxKeyGroupsLimit)
	}

	if cfg.ElectionTimeout < time.Second {
		return fmt.Errorf("%w: ElectionTimeout (%v) must be >= 1s", ErrInvalidConfig, cfg.ElectionTimeout)
	}

	if cfg.Executor.RequestTimeout <= 0 {
		return fmt.Errorf("%w: Executor.RequestTimeout must be > 0, got %v",
			ErrInvalidConfig, cfg.Executor.RequestTimeout)
	}

	if cfg.ShutdownTimeout < cfg.Executor.RequestTimeout {
		return fmt.Errorf(
			"%w: ShutdownTimeout (%v) must be >= Executor.RequestTimeout (%v) so an in-flight phase can drain",
			ErrInvalidConfig, cfg.ShutdownTimeout, cfg.Executor.RequestTimeout,
		)
	}

	if cfg.KVBuckets.ElectionBucket == "" || cfg.KVBuckets.PlanBucket == "" || cfg.KVBuckets.PlanKey == "" {
		return fmt.Errorf("%w: KV bucket names and plan key are required", ErrInvalidConfig)
	}

	return nil
}

// ValidateWithWarnings logs warnings for legal but non-recommended values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.StartupTimeout < cfg.OperationTimeout {
		logger.Warn(
			"StartupTimeout is below OperationTimeout, plan recovery may time out",
			"startup_timeout", cfg.StartupTimeout,
			"operation_timeout", cfg.OperationTimeout,
		)
	}

	if cfg.Address == "" {
		logger.Warn("Address is empty, leader confirmation will publish no serving address")
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := reconf.TestConfig()
//	cfg.CandidateID = "test-node"
//	mgr, err := reconf.NewManager(&cfg, nc, factory)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.ElectionTimeout = time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Executor.RequestTimeout = 2 * time.Second

	return cfg
}

// ParseConfig decodes a YAML document into a Config and applies defaults.
//
// Parameters:
//   - data: YAML document
//
// Returns:
//   - Config: Decoded configuration with defaults applied
//   - error: Decode or validation error
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
//
// Parameters:
//   - path: File path
//
// Returns:
//   - Config: Decoded configuration with defaults applied
//   - error: Read, decode or validation error
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	return ParseConfig(data)
}
