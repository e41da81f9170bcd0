package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"deploy-keeper/internal/env"
	"deploy-keeper/internal/models"
)

/**
 * Target credentials kept outside config.yaml
 * @property {string} user - SSH user
 * @property {string} password - SSH password
 * @property {string} key_file - Private key path
 * @property {string} known_hosts - known_hosts file
 */
type Credential struct {
	User       string `json:"user"`
	Password   string `json:"password"`
	KeyFile    string `json:"key_file"`
	KnownHosts string `json:"known_hosts"`
}

var (
	credentials     map[string]Credential
	credentialsLock sync.RWMutex
	credentialsRead bool
)

// CredentialsFile is share/credentials.json under the data directory.
func CredentialsFile() string {
	return filepath.Join(env.KeeperDir, "share", "credentials.json")
}

/**
 * Load target credentials from credentials.json
 * @returns {error} Returns error if the file exists but cannot be decoded
 * @description
 * - File maps target name to credential, e.g. {"prod": {"user": "deploy", "key_file": "~/.ssh/id_ed25519"}}
 * - A missing file is not an error
 * - Result is cached until the next LoadCredentials call
 */
func LoadCredentials() error {
	creds := make(map[string]Credential)
	data, err := os.ReadFile(CredentialsFile())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &creds); err != nil {
			return fmt.Errorf("failed to decode credentials: %w", err)
		}
	}

	credentialsLock.Lock()
	defer credentialsLock.Unlock()
	credentials = creds
	credentialsRead = true
	return nil
}

func getCredential(name string) (Credential, bool) {
	credentialsLock.RLock()
	if credentialsRead {
		defer credentialsLock.RUnlock()
		c, ok := credentials[name]
		return c, ok
	}
	credentialsLock.RUnlock()

	if err := LoadCredentials(); err != nil {
		return Credential{}, false
	}
	credentialsLock.RLock()
	defer credentialsLock.RUnlock()
	c, ok := credentials[name]
	return c, ok
}

// applyCredentials fills only the fields config.yaml left empty.
func applyCredentials(t *models.Target) {
	c, ok := getCredential(t.Name)
	if !ok {
		return
	}
	if t.User == "" {
		t.User = c.User
	}
	if t.Password == "" {
		t.Password = c.Password
	}
	if t.KeyFile == "" {
		t.KeyFile = c.KeyFile
	}
	if t.KnownHosts == "" {
		t.KnownHosts = c.KnownHosts
	}
}
