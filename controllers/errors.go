package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/history"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

// errorStatus maps service errors to an HTTP status and an ErrorResponse code
func errorStatus(err error) (int, string) {
	var pe *models.PlanError
	switch {
	case errors.Is(err, models.ErrAlreadyInProgress):
		return http.StatusConflict, "target.busy"
	case errors.Is(err, config.ErrTargetNotFound):
		return http.StatusNotFound, "target.notexist"
	case errors.Is(err, models.ErrSnapshotNotFound):
		return http.StatusNotFound, "snapshot.notexist"
	case errors.Is(err, history.ErrRunNotFound):
		return http.StatusNotFound, "run.notexist"
	case errors.As(err, &pe):
		return http.StatusBadRequest, "plan.invalid"
	}
	return http.StatusInternalServerError, "internal"
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.JSON(status, &models.ErrorResponse{
		Code:  code,
		Error: err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, &models.ErrorResponse{
		Code:  "request.invalid",
		Error: err.Error(),
	})
}

// outcomeStatus 运行结果总是作为响应体返回，状态码只区分请求是否被接受
func outcomeStatus(out *models.DeploymentOutcome) int {
	switch out.ErrorKind {
	case "AlreadyInProgress":
		return http.StatusConflict
	case "PlanError":
		return http.StatusBadRequest
	}
	return http.StatusOK
}

// target resolves the :name path parameter, writing the error response when it fails
func target(c *gin.Context, server *services.Server) (*models.Target, bool) {
	t, err := server.Target(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return t, true
}
