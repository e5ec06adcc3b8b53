package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MasterConfig contains all configuration for the master service.
type MasterConfig struct {
	// GalaxyAddress is the endpoint of the resource platform used to launch
	// worker pod groups.
	GalaxyAddress string `mapstructure:"galaxy_address"`

	// NexusServerList is a comma-separated list of lock/KV cluster seeds.
	NexusServerList string `mapstructure:"nexus_server_list"`

	// NexusRootPath prefixes every key the master writes to the lock/KV
	// service, including the leader lock and job snapshots.
	NexusRootPath string `mapstructure:"nexus_root_path"`

	MasterPort     string `mapstructure:"master_port"`
	MasterLockPath string `mapstructure:"master_lock_path"`
	MasterPath     string `mapstructure:"master_path"`
	JobDataHeader  string `mapstructure:"jobdata_header"`

	// GCIntervalSeconds is the retired-tracker reaping period.
	GCIntervalSeconds int `mapstructure:"gc_interval"`

	// BackupIntervalMs is the job snapshot period.
	BackupIntervalMs int `mapstructure:"backup_interval"`

	// Recovery restores jobs from the lock/KV service on startup.
	Recovery bool `mapstructure:"recovery"`

	REST    RESTConfig    `mapstructure:"rest"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RESTConfig contains HTTP API server configuration.
type RESTConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (c *MasterConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}

func (c *MasterConfig) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalMs) * time.Millisecond
}

// NexusServers splits the configured seed list.
func (c *MasterConfig) NexusServers() []string {
	var servers []string
	for _, s := range strings.Split(c.NexusServerList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// LoadMaster loads the master configuration from the given path.
// If configPath is empty, it looks for master.yaml in the config/ directory.
// Environment variables with SHUTTLE_MASTER_ prefix override config file values.
func LoadMaster(configPath string) (*MasterConfig, error) {
	v := viper.New()

	v.SetDefault("galaxy_address", "localhost:7710")
	v.SetDefault("nexus_server_list", "localhost:2379")
	v.SetDefault("nexus_root_path", "/shuttle/")
	v.SetDefault("master_port", "7828")
	v.SetDefault("master_lock_path", "master_lock")
	v.SetDefault("master_path", "master")
	v.SetDefault("jobdata_header", "jobdata_")
	v.SetDefault("gc_interval", 600)
	v.SetDefault("backup_interval", 30000)
	v.SetDefault("recovery", true)
	v.SetDefault("rest.read_timeout", 15*time.Second)
	v.SetDefault("rest.write_timeout", 15*time.Second)
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("master")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SHUTTLE_MASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
