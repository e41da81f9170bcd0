package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"deploy-keeper/internal/env"
	"deploy-keeper/internal/models"
)

/**
 * Server configuration parameters
 * @property {string} address - Server listening address (e.g. "127.0.0.1:8620")
 * @property {string} mode - Gin mode (debug/release/test)
 * @property {string} socket - Unix socket the CLI forwards requests to
 * @property {time.Duration} monitorInterval - Period of the service status refresh, 0 disables it
 */
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	Socket          string        `mapstructure:"socket"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, "console" logs to stderr
 */
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

/**
 * Metrics configuration
 * @property {string} pushgateway - Pushgateway address, CLI runs push their metrics there when set
 */
type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"`
}

// HistoryConfig points at the sqlite file runs are recorded in. Empty path disables history.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

/**
 * Defaults applied to plans and commands when neither flags nor requests set them
 * @property {time.Duration} commandTimeout - Timeout of ordinary remote commands
 * @property {time.Duration} snapshotTimeout - Timeout of copy/restore commands
 * @property {time.Duration} healthTimeout - Timeout of one health attempt
 * @property {int} healthAttempts - Health attempts before a component is declared failed
 * @property {time.Duration} healthDelay - Base delay between health attempts
 * @property {time.Duration} healthMaxDelay - Cap for linear/exponential backoff
 * @property {string} backoff - fixed/linear/exponential
 * @property {int} retention - Snapshots kept per target
 * @property {int} pageSize - Snapshots fetched per page when listing
 * @property {int} prereqAttempts - Install attempts per prerequisite
 */
type DefaultsConfig struct {
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	HealthAttempts  int           `mapstructure:"health_attempts"`
	HealthDelay     time.Duration `mapstructure:"health_delay"`
	HealthMaxDelay  time.Duration `mapstructure:"health_max_delay"`
	Backoff         string        `mapstructure:"backoff"`
	Retention       int           `mapstructure:"retention"`
	PageSize        int           `mapstructure:"page_size"`
	PrereqAttempts  int           `mapstructure:"prereq_attempts"`
}

var (
	ErrTargetNotFound    = errors.New("target not found")
	ErrComponentNotFound = errors.New("component not found")
)

type AppConfig struct {
	Server        ServerConfig               `mapstructure:"server"`
	Log           LogConfig                  `mapstructure:"log"`
	Metrics       MetricsConfig              `mapstructure:"metrics"`
	History       HistoryConfig              `mapstructure:"history"`
	Defaults      DefaultsConfig             `mapstructure:"defaults"`
	Targets       []TargetConfig             `mapstructure:"targets"`
	Components    map[string]ComponentConfig `mapstructure:"components"`
	Prerequisites []PrerequisiteConfig       `mapstructure:"prerequisites"`
	Migrations    MigrationConfig            `mapstructure:"migrations"`
}

var (
	current    *AppConfig
	currentV   *viper.Viper
	configFile string
	configLock sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:8620")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.socket", filepath.Join(env.KeeperDir, "run", "deploy-keeper.sock"))
	v.SetDefault("server.monitor_interval", "1m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("history.path", filepath.Join(env.KeeperDir, "share", "history.db"))
	v.SetDefault("defaults.command_timeout", "60s")
	v.SetDefault("defaults.snapshot_timeout", "30m")
	v.SetDefault("defaults.health_timeout", "5s")
	v.SetDefault("defaults.health_attempts", 5)
	v.SetDefault("defaults.health_delay", "10s")
	v.SetDefault("defaults.health_max_delay", "2m")
	v.SetDefault("defaults.backoff", "fixed")
	v.SetDefault("defaults.retention", 5)
	v.SetDefault("defaults.page_size", 20)
	v.SetDefault("defaults.prereq_attempts", 1)
	v.SetDefault("migrations.timeout", "10m")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(env.KeeperDir)
	}
	v.SetEnvPrefix("DEPLOY_KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

/**
 * Load application configuration from YAML file
 * @param {string} path - Explicit config file, empty searches ./config.yaml and ~/.deploy-keeper/config.yaml
 * @returns {*AppConfig} Loaded configuration, defaults only when no file was found
 * @description
 * - DEPLOY_KEEPER_* environment variables override scalar keys (DEPLOY_KEEPER_LOG_LEVEL)
 * - The loaded configuration becomes the one returned by Get()
 */
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	configLock.Lock()
	current = cfg
	currentV = v
	configFile = v.ConfigFileUsed()
	configLock.Unlock()
	return cfg, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	collectConfig(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func collectConfig(cfg *AppConfig) *AppConfig {
	if cfg.Components == nil {
		cfg.Components = make(map[string]ComponentConfig)
	}
	for name, c := range cfg.Components {
		if c.Service.Name == "" {
			c.Service.Name = name
		}
		if c.Service.Timeout == 0 {
			c.Service.Timeout = cfg.Defaults.CommandTimeout
		}
		if c.SyncTimeout == 0 {
			c.SyncTimeout = cfg.Defaults.CommandTimeout
		}
		// 未配置健康检查时按进程状态判断
		if c.Health == (models.HealthSpec{}) {
			c.Health.Type = models.ProbeProcess
		}
		// 进程探针默认复用服务的状态命令
		if c.Health.Type == models.ProbeProcess && c.Health.Command == "" {
			c.Health.Command = c.Service.Status
		}
		cfg.Components[name] = c
	}
	for i := range cfg.Targets {
		cfg.Targets[i].Name = strings.TrimSpace(cfg.Targets[i].Name)
	}
	return cfg
}

func (cfg *AppConfig) validate() error {
	seen := make(map[string]bool)
	for _, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("config: target without name")
		}
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate target '%s'", t.Name)
		}
		seen[t.Name] = true
	}
	for name := range cfg.Components {
		if name != "backend" && name != "frontend" {
			return fmt.Errorf("config: unknown component '%s' (expected backend or frontend)", name)
		}
	}
	return nil
}

// Get returns the configuration loaded last. A zero-target default is returned before LoadConfig.
func Get() *AppConfig {
	configLock.RLock()
	cfg := current
	configLock.RUnlock()
	if cfg != nil {
		return cfg
	}
	cfg, err := decode(newViper(""))
	if err != nil {
		return collectConfig(&AppConfig{})
	}
	return cfg
}

// Set replaces the active configuration; used by tests and embedders that build configs in code.
func Set(cfg *AppConfig) {
	configLock.Lock()
	current = collectConfig(cfg)
	configLock.Unlock()
}

// ConfigFile returns the file the active configuration was read from, if any.
func ConfigFile() string {
	configLock.RLock()
	defer configLock.RUnlock()
	return configFile
}

/**
 * Re-read the configuration file
 * @returns {*AppConfig} The new configuration
 * @description
 * - On error the previous configuration stays active
 */
func Reload() (*AppConfig, error) {
	return LoadConfig(ConfigFile())
}

/**
 * Watch the configuration file and reload it on change
 * @param {func} onChange - Called after every reload attempt with the new config or the error
 * @description
 * - Uses fsnotify through viper.WatchConfig
 * - A broken edit keeps the previous configuration active
 */
func Watch(onChange func(*AppConfig, error)) {
	configLock.RLock()
	v := currentV
	configLock.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			configLock.Lock()
			current = cfg
			configLock.Unlock()
		}
		if onChange != nil {
			onChange(cfg, err)
		}
	})
	v.WatchConfig()
}
