package models

import (
	"fmt"
	"path"
)

const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

/**
 * Target is one deployment destination
 * @property {string} name - Target identity, used for locking and history
 * @property {string} host - Host address (ignored for local transport)
 * @property {int} port - SSH port
 * @property {string} user - SSH user
 * @property {string} keyFile - Private key path used for authentication
 * @property {string} password - Password used when no key file is given
 * @property {string} knownHosts - known_hosts file, empty disables host key verification
 * @property {string} transport - ssh/local
 * @property {string} root - Deployment root on the target
 * @property {string} backupRoot - Directory holding snapshots
 * @property {string} lockPath - On-target advisory lock directory
 */
type Target struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	KeyFile    string `json:"-"`
	Password   string `json:"-"`
	KnownHosts string `json:"-"`
	Transport  string `json:"transport"`
	Root       string `json:"root"`
	BackupRoot string `json:"backupRoot"`
	LockPath   string `json:"lockPath"`
}

// Normalize fills derived paths and defaults in place.
func (t *Target) Normalize() {
	if t.Transport == "" {
		t.Transport = TransportSSH
	}
	if t.Port == 0 {
		t.Port = 22
	}
	if t.BackupRoot == "" && t.Root != "" {
		t.BackupRoot = path.Clean(t.Root) + "-backups"
	}
	if t.LockPath == "" && t.BackupRoot != "" {
		t.LockPath = path.Join(t.BackupRoot, ".deploy.lock")
	}
}

func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name is empty")
	}
	if t.Root == "" {
		return fmt.Errorf("target '%s': root is empty", t.Name)
	}
	switch t.Transport {
	case TransportLocal:
	case TransportSSH:
		if t.Host == "" {
			return fmt.Errorf("target '%s': host is empty", t.Name)
		}
	default:
		return fmt.Errorf("target '%s': unknown transport '%s'", t.Name, t.Transport)
	}
	return nil
}

// Address returns host:port for dialing.
func (t *Target) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
