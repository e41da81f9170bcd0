package config

import (
	"fmt"
	"sort"

	"deploy-keeper/internal/models"
)

// TargetConfig is one entry of the `targets` list.
type TargetConfig struct {
	Name       string `mapstructure:"name"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	KeyFile    string `mapstructure:"key_file"`
	Password   string `mapstructure:"password"`
	KnownHosts string `mapstructure:"known_hosts"`
	Transport  string `mapstructure:"transport"`
	Root       string `mapstructure:"root"`
	BackupRoot string `mapstructure:"backup_root"`
	LockPath   string `mapstructure:"lock_path"`
}

/**
 * Resolve a configured target
 * @param {string} name - Target name
 * @returns {*models.Target} Normalized and validated target
 * @description
 * - Credentials missing from config.yaml are filled from share/credentials.json
 */
func (cfg *AppConfig) Target(name string) (*models.Target, error) {
	for _, tc := range cfg.Targets {
		if tc.Name != name {
			continue
		}
		t := &models.Target{
			Name:       tc.Name,
			Host:       tc.Host,
			Port:       tc.Port,
			User:       tc.User,
			KeyFile:    tc.KeyFile,
			Password:   tc.Password,
			KnownHosts: tc.KnownHosts,
			Transport:  tc.Transport,
			Root:       tc.Root,
			BackupRoot: tc.BackupRoot,
			LockPath:   tc.LockPath,
		}
		applyCredentials(t)
		t.Normalize()
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrTargetNotFound, name)
}

// ResolveTargets resolves several targets, failing on the first unknown one.
func (cfg *AppConfig) ResolveTargets(names []string) ([]*models.Target, error) {
	targets := make([]*models.Target, 0, len(names))
	for _, name := range names {
		t, err := cfg.Target(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (cfg *AppConfig) TargetNames() []string {
	names := make([]string, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		names = append(names, tc.Name)
	}
	sort.Strings(names)
	return names
}
