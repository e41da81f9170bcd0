package metrics

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/rpc"
)

var optAll bool

func init() {
	root.RootCmd.AddCommand(Cmd)
	Cmd.Flags().SortFlags = false
	Cmd.Flags().BoolVarP(&optAll, "all", "a", false, "Include Go runtime and process metrics")
}

var Cmd = &cobra.Command{
	Use:   "metrics",
	Short: "显示服务器的Prometheus指标",
	Long:  `从运行中的deploy-keeper服务器读取/metrics，默认只显示deploy_keeper_开头的指标`,
	Run: func(cmd *cobra.Command, args []string) {
		client := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
		defer client.Close()

		resp, err := client.Get("/metrics", nil)
		if err != nil {
			fmt.Printf("Failed to call deploy-keeper server: %v\n", err)
			root.Exit(1)
		}
		if !resp.OK() {
			fmt.Printf("deploy-keeper server returned error(%d): %s\n", resp.StatusCode, resp.Error)
			root.Exit(1)
		}
		scanner := bufio.NewScanner(bytes.NewReader(resp.Body))
		for scanner.Scan() {
			line := scanner.Text()
			name := strings.TrimPrefix(strings.TrimPrefix(line, "# HELP "), "# TYPE ")
			if optAll || strings.HasPrefix(name, "deploy_keeper_") {
				fmt.Println(line)
			}
		}
		root.Exit(0)
	},
}
