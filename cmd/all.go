package cmd

import (
	_ "deploy-keeper/cmd/deploy"
	_ "deploy-keeper/cmd/health"
	_ "deploy-keeper/cmd/history"
	_ "deploy-keeper/cmd/logs"
	_ "deploy-keeper/cmd/metrics"
	_ "deploy-keeper/cmd/misc"
	_ "deploy-keeper/cmd/root"
	_ "deploy-keeper/cmd/server"
	_ "deploy-keeper/cmd/service"
	_ "deploy-keeper/cmd/snapshot"
)
