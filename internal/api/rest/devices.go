package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"benchlink/internal/devices"
	"benchlink/internal/engine"
	"benchlink/internal/types"
)

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	bench := s.lm.Bench()
	c.JSON(http.StatusOK, gin.H{
		"devices": bench.Instances(),
		"count":   len(bench.Instances()),
	})
}

// GET /api/v1/devices/types
func (s *Server) listDeviceTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"types": devices.Types(),
	})
}

// POST /api/v1/devices/:alias/command
func (s *Server) executeDeviceCommand(c *gin.Context) {
	alias := c.Param("alias")

	var req struct {
		Command string         `json:"command" binding:"required"`
		Params  map[string]any `json:"params"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("DEVICE_400", "Invalid request body", err.Error()))
		return
	}

	// Handsteuerung nur, solange kein Skript auf dem Bus arbeitet
	if s.lm.Engine().State() == engine.StateRunning {
		c.JSON(http.StatusConflict, types.NewErrorResponse("DEVICE_409", "Run in progress", "manual device commands are blocked while a script is running"))
		return
	}

	dev, ok := s.lm.Bench().Device(alias)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("DEVICE_404", "Unknown device alias", alias))
		return
	}

	result, err := dev.Invoke(c.Request.Context(), req.Command, req.Params)
	if err != nil {
		s.logger.Error("Device command failed",
			zap.String("alias", alias),
			zap.String("command", req.Command),
			zap.Error(err))

		status := http.StatusInternalServerError
		code := "DEVICE_500"
		switch {
		case errors.Is(err, types.ErrConfiguration):
			status = http.StatusBadRequest
			code = "DEVICE_400"
		case errors.Is(err, types.ErrConnectivity):
			status = http.StatusServiceUnavailable
			code = "DEVICE_503"
		}
		c.JSON(status, types.NewErrorResponse(code, "Command execution failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Command executed",
		"alias":   alias,
		"command": req.Command,
		"result":  result,
	})
}
