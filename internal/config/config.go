package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment is one independently migrated store, e.g. a tenant schema.
// Empty fields inherit from the top-level config.
type Environment struct {
	Name        string `yaml:"name"`
	Dialect     string `yaml:"dialect"`
	DSN         string `yaml:"dsn"`
	LedgerTable string `yaml:"ledger_table"`
}

type Config struct {
	Dialect         string        `yaml:"dialect"`
	DSN             string        `yaml:"dsn"`
	Dir             string        `yaml:"dir"`
	JSON            bool          `yaml:"json"`
	DryRun          bool          `yaml:"dry_run"`
	LockTimeoutSec  int           `yaml:"lock_timeout_sec"`
	LedgerTable     string        `yaml:"ledger_table"`
	AppliedBy       string        `yaml:"applied_by"`
	AllowDataLoss   bool          `yaml:"allow_data_loss"`
	Verbose         bool          `yaml:"verbose"`
	MetricsTextfile string        `yaml:"metrics_textfile"`
	BatchSize       int           `yaml:"batch_size"`
	Environments    []Environment `yaml:"environments"`
}

func Default() *Config {
	return &Config{
		Dialect:        "mysql",
		Dir:            "./migrations",
		LockTimeoutSec: 30,
		LedgerTable:    "schema_nodes",
		BatchSize:      500,
	}
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("DB_DIALECT"); v != "" {
		cfg.Dialect = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("LOCK_TIMEOUT_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutSec = i
		}
	}
	if v := os.Getenv("LEDGER_TABLE"); v != "" {
		cfg.LedgerTable = v
	}
	if v := os.Getenv("APPLIED_BY"); v != "" {
		cfg.AppliedBy = v
	}
	if v := os.Getenv("ALLOW_DATA_LOSS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowDataLoss = b
		}
	}
	if v := os.Getenv("METRICS_TEXTFILE"); v != "" {
		cfg.MetricsTextfile = v
	}
	return cfg
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}

// Targets returns the environments selected by name; "" selects the
// top-level connection, "all" every configured environment.
func (c *Config) Targets(name string) ([]Environment, error) {
	base := Environment{Name: "default", Dialect: c.Dialect, DSN: c.DSN, LedgerTable: c.LedgerTable}
	if name == "" {
		return []Environment{base}, nil
	}
	var out []Environment
	for _, e := range c.Environments {
		if name != "all" && e.Name != name {
			continue
		}
		if e.Dialect == "" {
			e.Dialect = base.Dialect
		}
		if e.DSN == "" {
			e.DSN = base.DSN
		}
		if e.LedgerTable == "" {
			e.LedgerTable = base.LedgerTable
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		names := make([]string, len(c.Environments))
		for i, e := range c.Environments {
			names[i] = e.Name
		}
		return nil, fmt.Errorf("unknown environment %q (configured: %s)", name, strings.Join(names, ", "))
	}
	return out, nil
}
