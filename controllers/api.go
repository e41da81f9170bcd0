package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

type APIController struct {
	server *services.Server
}

/**
 * Create new API controller instance
 * @param {*services.Server} server - Server instance shared by all controllers
 * @returns {*APIController} New API controller instance
 * @example
 * controller := controllers.NewAPIController(server)
 */
func NewAPIController(server *services.Server) *APIController {
	return &APIController{
		server: server,
	}
}

/**
 * Register all API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers routes for:
 *   - Readiness probe and configuration reload
 *   - Server state and configured targets
 *   - Run history and keeper logs
 */
func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", a.Healthz)
	api := r.Group("/deploy-keeper/api/v1")
	api.POST("/reload", a.ReloadConfig)
	api.GET("/state", a.State)
	api.GET("/targets", a.ListTargets)
	api.GET("/history", a.ListHistory)
	api.GET("/history/:run", a.GetRun)
	api.GET("/logs", a.Logs)
}

// @Summary 重新加载配置
// @Description 重新加载配置文件和凭据，正在进行的部署继续使用旧配置
// @Tags Config
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} models.ErrorResponse
// @Router /deploy-keeper/api/v1/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	if err := a.server.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Code:  "config.reload_failed",
			Error: "Failed to reload configuration: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}

// @Summary 业务就绪探针
// @Description 返回服务版本、启动时间、健康状态和关键指标统计结果
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.GetHealthz())
}

// @Summary 服务器状态
// @Description 返回运行环境、各目标的锁状态和最近观测到的服务状态
// @Tags System
// @Produce json
// @Success 200 {object} models.ServerState
// @Router /deploy-keeper/api/v1/state [get]
func (a *APIController) State(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.GetState())
}

// @Summary 列出部署目标
// @Tags Targets
// @Produce json
// @Success 200 {array} models.Target
// @Router /deploy-keeper/api/v1/targets [get]
func (a *APIController) ListTargets(c *gin.Context) {
	cfg := a.server.Orchestrator().Config()
	targets := []*models.Target{}
	for _, name := range cfg.TargetNames() {
		t, err := cfg.Target(name)
		if err != nil {
			respondError(c, err)
			return
		}
		targets = append(targets, t)
	}
	c.JSON(http.StatusOK, targets)
}

// @Summary 部署历史
// @Description 按开始时间倒序列出已完成的部署和回滚
// @Tags History
// @Produce json
// @Param target query string false "Target name"
// @Param limit query int false "Maximum runs" default(20)
// @Success 200 {array} models.DeploymentOutcome
// @Failure 500 {object} models.ErrorResponse
// @Router /deploy-keeper/api/v1/history [get]
func (a *APIController) ListHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := a.server.History(c.Request.Context(), c.Query("target"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []models.DeploymentOutcome{}
	}
	c.JSON(http.StatusOK, runs)
}

// @Summary 查询单次运行
// @Tags History
// @Produce json
// @Param run path string true "Run id"
// @Success 200 {object} models.DeploymentOutcome
// @Failure 404 {object} models.ErrorResponse
// @Router /deploy-keeper/api/v1/history/{run} [get]
func (a *APIController) GetRun(c *gin.Context) {
	run, err := a.server.Run(c.Request.Context(), c.Param("run"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Summary 读取keeper日志
// @Tags System
// @Produce json
// @Param lines query int false "Last lines" default(100)
// @Param level query string false "debug/info/warn/error"
// @Param target query string false "Only lines of this target"
// @Success 200 {array} string
// @Failure 500 {object} models.ErrorResponse
// @Router /deploy-keeper/api/v1/logs [get]
func (a *APIController) Logs(c *gin.Context) {
	lines, _ := strconv.Atoi(c.DefaultQuery("lines", "100"))
	result, err := a.server.Logs().Tail(lines, c.Query("level"), c.Query("target"))
	if err != nil {
		respondError(c, err)
		return
	}
	if result == nil {
		result = []string{}
	}
	c.JSON(http.StatusOK, result)
}
