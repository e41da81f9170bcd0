package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"deploy-keeper/cmd/root"
	"deploy-keeper/controllers"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/middleware"
	"deploy-keeper/services"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动HTTP服务",
	Long: `启动HTTP服务，通过REST接口执行部署、回滚、快照和服务操作。
同一进程内对同一目标的操作互斥，配置文件修改后自动重新加载。`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startServer(cmd.Context()); err != nil {
			logger.Error(err)
			root.Exit(1)
		}
		root.Exit(0)
	},
}

// newRouter 注册所有控制器
func newRouter(server *services.Server, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.MetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	controllers.NewAPIController(server).RegisterRoutes(router)
	controllers.NewDeployController(server).RegisterRoutes(router)
	controllers.NewServiceController(server).RegisterRoutes(router)
	return router
}

/**
 * Run the HTTP server until ctx is cancelled
 * @param {context.Context} ctx - Cancelled by SIGINT/SIGTERM
 * @returns {error} Returns error if no listener could be created or serving fails
 * @description
 * - Serves the same router on the unix socket and the TCP address
 * - On shutdown, requests in flight get server.shutdown_timeout to finish;
 *   deployments they run see their context cancelled and roll back
 */
func startServer(ctx context.Context) error {
	cfg := config.Get()
	server := services.NewServer(services.GetOrchestrator(), historyOf(), services.NewLogService(logger.LogPath(&cfg.Log)))

	config.Watch(func(newCfg *config.AppConfig, err error) {
		if err != nil {
			logger.Errorf("configuration change ignored: %v", err)
			return
		}
		server.Orchestrator().SetConfig(newCfg)
		logger.Infof("configuration reloaded, %d targets", len(newCfg.Targets))
	})

	listeners, err := CreateListeners(listenAddrs(cfg.Server))
	if len(listeners) == 0 {
		if err == nil {
			err = errors.New("no listen address configured")
		}
		return fmt.Errorf("启动服务失败: %w", err)
	}

	router := newRouter(server, cfg.Server.Mode)
	httpServer := &http.Server{
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.StartMonitoring(gctx)
		return nil
	})
	for _, l := range listeners {
		l := l
		logger.Infof("deploy-keeper server listening on %s://%s", l.Addr().Network(), l.Addr().String())
		g.Go(func() error {
			if err := httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down deploy-keeper server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// historyOf 历史库未启用时返回nil接口，而不是包着nil指针的接口
func historyOf() services.RunHistory {
	if store := services.GetHistory(); store != nil {
		return store
	}
	return nil
}

func shutdownTimeout(cfg *config.AppConfig) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

func init() {
	root.RootCmd.AddCommand(serverCmd)
}
