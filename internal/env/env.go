package env

import (
	"os"
	"path/filepath"
)

var Daemon bool = false
var ListenPort int = 0
var Version string = "dev"

// (default: %USERPROFILE%/.deploy-keeper on Windows, $HOME/.deploy-keeper on Linux)
var KeeperDir string = GetKeeperDir()

/**
 * Get deploy-keeper data directory path
 * @returns {string} Returns data directory path, DEPLOY_KEEPER_HOME overrides the default
 */
func GetKeeperDir() string {
	if dir := os.Getenv("DEPLOY_KEEPER_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".deploy-keeper")
}
