package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

type ServiceController struct {
	server *services.Server
}

/**
 * Create new Service controller instance
 * @param {*services.Server} server - Server instance shared by all controllers
 * @returns {*ServiceController} New Service controller instance
 */
func NewServiceController(server *services.Server) *ServiceController {
	return &ServiceController{
		server: server,
	}
}

/**
 * Register all service API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Services are addressed by target and component (backend/frontend)
 * - start/stop/restart take the target lock, status does not
 */
func (s *ServiceController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/deploy-keeper/api/v1/targets/:name/services")
	// 服务管理接口
	api.GET("", s.ListServices)
	api.GET("/:component", s.GetService)
	api.POST("/:component/start", s.StartService)
	api.POST("/:component/stop", s.StopService)
	api.POST("/:component/restart", s.RestartService)
}

// ListServices lists the last observed state of the services of one target
//
//	@Summary		List services
//	@Description	Last observed state of every service on the target, nothing is queried
//	@Tags			Services
//	@Produce		json
//	@Param			name	path		string	true	"Target name"
//	@Success		200		{array}		models.ServiceDetail
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/services [get]
func (s *ServiceController) ListServices(c *gin.Context) {
	t, ok := target(c, s.server)
	if !ok {
		return
	}
	details := s.server.Orchestrator().Services().Details(t.Name)
	if details == nil {
		details = []models.ServiceDetail{}
	}
	c.JSON(http.StatusOK, details)
}

func (s *ServiceController) control(c *gin.Context, op string) {
	t, ok := target(c, s.server)
	if !ok {
		return
	}
	detail, err := s.server.Orchestrator().ControlService(c.Request.Context(), t, c.Param("component"), op)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetService queries the status command of one service
//
//	@Summary		Get service
//	@Tags			Services
//	@Produce		json
//	@Param			name		path		string	true	"Target name"
//	@Param			component	path		string	true	"backend/frontend"
//	@Success		200			{object}	models.ServiceDetail
//	@Failure		400			{object}	models.ErrorResponse	"Component not configured"
//	@Router			/deploy-keeper/api/v1/targets/{name}/services/{component} [get]
func (s *ServiceController) GetService(c *gin.Context) {
	s.control(c, services.ServiceOpStatus)
}

// StartService starts one service
//
//	@Summary		Start service
//	@Tags			Services
//	@Produce		json
//	@Param			name		path		string	true	"Target name"
//	@Param			component	path		string	true	"backend/frontend"
//	@Success		200			{object}	models.ServiceDetail
//	@Failure		409			{object}	models.ErrorResponse	"Target busy"
//	@Failure		500			{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/services/{component}/start [post]
func (s *ServiceController) StartService(c *gin.Context) {
	s.control(c, services.ServiceOpStart)
}

// StopService stops one service
//
//	@Summary		Stop service
//	@Tags			Services
//	@Produce		json
//	@Param			name		path		string	true	"Target name"
//	@Param			component	path		string	true	"backend/frontend"
//	@Success		200			{object}	models.ServiceDetail
//	@Failure		409			{object}	models.ErrorResponse	"Target busy"
//	@Failure		500			{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/services/{component}/stop [post]
func (s *ServiceController) StopService(c *gin.Context) {
	s.control(c, services.ServiceOpStop)
}

// RestartService restarts one service
//
//	@Summary		Restart service
//	@Tags			Services
//	@Produce		json
//	@Param			name		path		string	true	"Target name"
//	@Param			component	path		string	true	"backend/frontend"
//	@Success		200			{object}	models.ServiceDetail
//	@Failure		409			{object}	models.ErrorResponse	"Target busy"
//	@Failure		500			{object}	models.ErrorResponse
//	@Router			/deploy-keeper/api/v1/targets/{name}/services/{component}/restart [post]
func (s *ServiceController) RestartService(c *gin.Context) {
	s.control(c, services.ServiceOpRestart)
}
