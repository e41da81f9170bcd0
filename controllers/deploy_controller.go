package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

type DeployController struct {
	server *services.Server
}

func NewDeployController(server *services.Server) *DeployController {
	return &DeployController{
		server: server,
	}
}

/**
 * Register deployment routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - deploy/rollback block until the run is final and answer with the DeploymentOutcome
 * - 409 means another run holds the target, 400 means the plan was rejected
 */
func (d *DeployController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/deploy-keeper/api/v1/targets/:name")
	api.POST("/deploy", d.Deploy)
	api.POST("/rollback", d.Rollback)
	api.GET("/health", d.Health)
	api.GET("/snapshots", d.ListSnapshots)
	api.POST("/snapshots", d.CreateSnapshot)
	api.POST("/snapshots/prune", d.PruneSnapshots)
	api.DELETE("/lock", d.Unlock)
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return false
	}
	return true
}

// Deploy runs a deployment against one target
//
//	@Summary		Deploy
//	@Description	Run backup, sync, restart and verify against the target. Fields missing from the body take the configured defaults
//	@Tags			Deploy
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string					true	"Target name"
//	@Param			plan	body		models.DeploymentPlan	false	"Deployment plan"
//	@Success		200		{object}	models.DeploymentOutcome	"Run finished, see status"
//	@Failure		400		{object}	models.DeploymentOutcome	"Plan rejected"
//	@Failure		404		{object}	models.ErrorResponse		"Target not found"
//	@Failure		409		{object}	models.DeploymentOutcome	"Target busy"
//	@Router			/deploy-keeper/api/v1/targets/{name}/deploy [post]
func (d *DeployController) Deploy(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	// 以配置的默认值为底，请求体只覆盖出现的字段
	plan := *d.server.Orchestrator().Config().Plan()
	if !bindOptional(c, &plan) {
		return
	}
	out := d.server.Orchestrator().Deploy(c.Request.Context(), t, plan)
	c.JSON(outcomeStatus(out), out)
}

// Rollback restores a snapshot on one target
//
//	@Summary		Rollback
//	@Description	Restore a snapshot (default the newest backup), taking a safety snapshot of the current state first
//	@Tags			Deploy
//	@Accept			json
//	@Produce		json
//	@Param			name		path		string					true	"Target name"
//	@Param			request		body		models.RollbackRequest	false	"Snapshot and components"
//	@Success		200			{object}	models.DeploymentOutcome
//	@Failure		404			{object}	models.ErrorResponse
//	@Failure		409			{object}	models.DeploymentOutcome
//	@Router			/deploy-keeper/api/v1/targets/{name}/rollback [post]
func (d *DeployController) Rollback(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	var req models.RollbackRequest
	if !bindOptional(c, &req) {
		return
	}
	out := d.server.Orchestrator().RollbackTo(c.Request.Context(), t, req.Snapshot, req.Components)
	c.JSON(outcomeStatus(out), out)
}

// Health probes the components of one target
//
//	@Summary		Health
//	@Tags			Deploy
//	@Produce		json
//	@Param			name		path		string	true	"Target name"
//	@Param			component	query		string	false	"backend/frontend, empty probes all"
//	@Success		200			{array}		models.HealthVerdict
//	@Router			/deploy-keeper/api/v1/targets/{name}/health [get]
func (d *DeployController) Health(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	var components []string
	if comp := c.Query("component"); comp != "" {
		components = []string{comp}
	}
	verdicts, err := d.server.Orchestrator().CheckHealth(c.Request.Context(), t, components)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdicts)
}

// ListSnapshots pages through the snapshots of one target
//
//	@Summary		List snapshots
//	@Tags			Snapshots
//	@Produce		json
//	@Param			name	path		string	true	"Target name"
//	@Param			after	query		string	false	"Continue after this snapshot id"
//	@Param			limit	query		int		false	"Page length"
//	@Success		200		{object}	models.SnapshotPage
//	@Router			/deploy-keeper/api/v1/targets/{name}/snapshots [get]
func (d *DeployController) ListSnapshots(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := d.server.Orchestrator().SnapshotPage(c.Request.Context(), t, c.Query("after"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// CreateSnapshot takes a manual backup of the deployment root
//
//	@Summary		Create snapshot
//	@Tags			Snapshots
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string					true	"Target name"
//	@Param			request	body		models.SnapshotRequest	false	"Label"
//	@Success		201		{object}	models.Snapshot
//	@Failure		409		{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/snapshots [post]
func (d *DeployController) CreateSnapshot(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	var req models.SnapshotRequest
	if !bindOptional(c, &req) {
		return
	}
	snap, err := d.server.Orchestrator().CreateSnapshot(c.Request.Context(), t, req.Label)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// PruneSnapshots applies the retention policy
//
//	@Summary		Prune snapshots
//	@Tags			Snapshots
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string				true	"Target name"
//	@Param			request	body		models.PruneRequest	false	"Snapshots to keep"
//	@Success		200		{object}	models.PruneReport
//	@Failure		409		{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/snapshots/prune [post]
func (d *DeployController) PruneSnapshots(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	var req models.PruneRequest
	if !bindOptional(c, &req) {
		return
	}
	report, err := d.server.Orchestrator().PruneSnapshots(c.Request.Context(), t, req.Keep)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Unlock removes a stale on-target lock
//
//	@Summary		Unlock target
//	@Tags			Deploy
//	@Param			name	path	string	true	"Target name"
//	@Success		204
//	@Failure		409		{object}	models.ErrorResponse	"A run of this server holds the target"
//	@Router			/deploy-keeper/api/v1/targets/{name}/lock [delete]
func (d *DeployController) Unlock(c *gin.Context) {
	t, ok := target(c, d.server)
	if !ok {
		return
	}
	if err := d.server.Orchestrator().Unlock(c.Request.Context(), t); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
