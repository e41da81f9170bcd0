package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "deploy-keeper/cmd"
	"deploy-keeper/cmd/root"
)

func main() {
	// 中断时取消正在进行的部署，已有备份的运行会回滚后退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
