package config

// Package config provides a reusable loader for ledgercore node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/synnergychain/ledgercore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a ledgercore node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID      string `mapstructure:"id" json:"id"`
		ChainID int    `mapstructure:"chain_id" json:"chain_id"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		// DBPath is the directory the authenticated key-value tree is
		// persisted under (cosmos-db backend selected by DBBackend).
		DBPath     string `mapstructure:"db_path" json:"db_path"`
		DBBackend  string `mapstructure:"db_backend" json:"db_backend"`
		Standalone bool   `mapstructure:"standalone" json:"standalone"`
	} `mapstructure:"storage" json:"storage"`

	Chain struct {
		// ServerSeedFile is where `init` writes the genesis wallet's
		// recall phrase; nothing else in this repository reads it.
		ServerSeedFile string `mapstructure:"server_seed_file" json:"server_seed_file"`
	} `mapstructure:"chain" json:"chain"`

	Migrations struct {
		// ConfigFile points at the YAML migration configuration document
		// reconciled against the code-declared registry at startup.
		ConfigFile string `mapstructure:"config_file" json:"config_file"`
	} `mapstructure:"migrations" json:"migrations"`

	IdentityStore struct {
		SeedPath string `mapstructure:"seed_path" json:"seed_path"`
	} `mapstructure:"idstore" json:"idstore"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // process environment variables override matching keys

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGERCORE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LEDGERCORE_ENV", ""))
}
