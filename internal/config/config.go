package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Recorder kinds.
const (
	RecordNoop     = "noop"
	RecordJSONL    = "jsonl"
	RecordPostgres = "postgres"
	RecordSQLite   = "sqlite"
)

// ErrMissing reports absent required configuration.
var ErrMissing = errors.New("missing required configuration")

// AgentConfig holds settings for the agent subcommands.
type AgentConfig struct {
	RPCURL         string
	Vault          string
	AgentKey       string
	OwnerKey       string
	Pools          []string
	EnvioURL       string
	EnvioKey       string
	HermesURL      string
	FeedIDs        []string
	SourceTimeout  time.Duration
	Interval       time.Duration
	InitialDelay   time.Duration
	ObserveEvery   time.Duration
	MinConfidence  float64
	AutoExecute    bool
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	HistorySize    int
	Listen         string
	Record         string
	RecordPath     string
	PGDSN          string
	SQLitePath     string
	DryRun         bool
	LogLevel       string
}

// WatchConfig holds settings for the event watcher.
type WatchConfig struct {
	RPCURL         string
	Vault          string
	FromBlock      uint64
	ToBlock        uint64
	BatchSize      uint64
	PollInterval   time.Duration
	Out            string
	Checkpoint     string
	CheckpointName string
	PGDSN          string
	SQLitePath     string
	Record         string
	MaxRetries     int
	RetryBackoff   time.Duration
	LogLevel       string
}

// LoadAgent merges config file, environment variables, and flags.
func LoadAgent(cfgFile string, flags *pflag.FlagSet) (AgentConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("hermes-url", "https://hermes.pyth.network")
		v.SetDefault("source-timeout", 10*time.Second)
		v.SetDefault("interval", 5*time.Minute)
		v.SetDefault("initial-delay", 10*time.Second)
		v.SetDefault("observe-interval", 30*time.Second)
		v.SetDefault("min-confidence", 0.7)
		v.SetDefault("confirm-timeout", 2*time.Minute)
		v.SetDefault("poll-interval", 3*time.Second)
		v.SetDefault("history-size", 100)
		v.SetDefault("listen", ":8080")
		v.SetDefault("record", RecordNoop)
		v.SetDefault("record-path", "./data")
		v.SetDefault("sqlite-path", "./data/agent.db")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return AgentConfig{}, err
	}

	cfg := AgentConfig{
		RPCURL:         v.GetString("rpc"),
		Vault:          v.GetString("vault"),
		AgentKey:       v.GetString("agent-key"),
		OwnerKey:       v.GetString("owner-key"),
		Pools:          getStringSlice(v, "pools"),
		EnvioURL:       v.GetString("envio-url"),
		EnvioKey:       v.GetString("envio-key"),
		HermesURL:      v.GetString("hermes-url"),
		FeedIDs:        getStringSlice(v, "feed-ids"),
		SourceTimeout:  v.GetDuration("source-timeout"),
		Interval:       v.GetDuration("interval"),
		InitialDelay:   v.GetDuration("initial-delay"),
		ObserveEvery:   v.GetDuration("observe-interval"),
		MinConfidence:  v.GetFloat64("min-confidence"),
		AutoExecute:    v.GetBool("auto-execute"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),
		PollInterval:   v.GetDuration("poll-interval"),
		HistorySize:    v.GetInt("history-size"),
		Listen:         v.GetString("listen"),
		Record:         strings.ToLower(v.GetString("record")),
		RecordPath:     v.GetString("record-path"),
		PGDSN:          v.GetString("pg-dsn"),
		SQLitePath:     v.GetString("sqlite-path"),
		DryRun:         v.GetBool("dry-run"),
		LogLevel:       v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks the settings a live (non dry-run) agent needs. The agent
// key is required when requireAgent is set, the owner key when requireOwner
// or AutoExecute is.
func (c AgentConfig) Validate(requireAgent, requireOwner bool) error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min-confidence must be within [0,1]")
	}
	switch c.Record {
	case RecordNoop, RecordJSONL, RecordSQLite:
	case RecordPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("%w: pg-dsn", ErrMissing)
		}
	default:
		return fmt.Errorf("unknown record kind %q", c.Record)
	}

	if c.DryRun {
		return nil
	}
	var missing []string
	if c.RPCURL == "" {
		missing = append(missing, "rpc")
	}
	if c.Vault == "" {
		missing = append(missing, "vault")
	}
	if requireAgent && c.AgentKey == "" {
		missing = append(missing, "agent-key")
	}
	if (requireOwner || c.AutoExecute) && c.OwnerKey == "" {
		missing = append(missing, "owner-key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// LoadWatch merges config file, environment variables, and flags.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("poll-interval", 12*time.Second)
		v.SetDefault("out", "./data")
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-name", "vault-events")
		v.SetDefault("sqlite-path", "./data/agent.db")
		v.SetDefault("record", RecordJSONL)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return WatchConfig{}, err
	}

	cfg := WatchConfig{
		RPCURL:         v.GetString("rpc"),
		Vault:          v.GetString("vault"),
		FromBlock:      v.GetUint64("from"),
		ToBlock:        v.GetUint64("to"),
		BatchSize:      v.GetUint64("batch-size"),
		PollInterval:   v.GetDuration("poll-interval"),
		Out:            v.GetString("out"),
		Checkpoint:     v.GetString("checkpoint"),
		CheckpointName: v.GetString("checkpoint-name"),
		PGDSN:          v.GetString("pg-dsn"),
		SQLitePath:     v.GetString("sqlite-path"),
		Record:         strings.ToLower(v.GetString("record")),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		LogLevel:       v.GetString("log-level"),
	}

	var missing []string
	if cfg.RPCURL == "" {
		missing = append(missing, "rpc")
	}
	if cfg.Vault == "" {
		missing = append(missing, "vault")
	}
	if cfg.Record == RecordPostgres && cfg.PGDSN == "" {
		missing = append(missing, "pg-dsn")
	}
	if len(missing) > 0 {
		return WatchConfig{}, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
