package rest

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"benchlink/internal/script"
	"benchlink/internal/types"
)

// benchLookup resolves script aliases against the wired bench.
func (s *Server) benchLookup() script.AliasLookup {
	bench := s.lm.Bench()
	return func(alias string) (string, bool) {
		dev, ok := bench.Device(alias)
		if !ok {
			return "", false
		}
		return dev.TypeName(), true
	}
}

// GET /api/v1/run/status
func (s *Server) getRunStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Engine().Status())
}

// POST /api/v1/run/start
// Body is the script document. An empty body falls back to the script
// path from the configuration.
func (s *Server) startRun(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "Failed to read request body", err.Error()))
		return
	}

	if len(data) == 0 {
		path := s.lm.Config().Script.Path
		if path == "" {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "No script supplied", "send the script as request body or configure script.path"))
			return
		}
		data, err = os.ReadFile(path)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "Failed to read configured script", err.Error()))
			return
		}
	}

	program, err := s.lm.Validator().Validate(data, s.benchLookup())
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "Script rejected", err.Error()))
		return
	}

	runID, err := s.lm.Engine().Start(program)
	if err != nil {
		status := http.StatusConflict
		if !strings.Contains(err.Error(), "cannot start") {
			status = http.StatusBadRequest
		}
		c.JSON(status, types.NewErrorResponse("RUN_409", "Failed to start run", err.Error()))
		return
	}

	s.logger.Info("Run started via API",
		zap.String("run_id", runID.String()),
		zap.String("script", program.Name))

	c.JSON(http.StatusCreated, gin.H{
		"run_id": runID.String(),
		"script": program.Name,
		"steps":  program.StepCount(),
	})
}

// POST /api/v1/run/pause
func (s *Server) pauseRun(c *gin.Context) {
	if err := s.lm.Engine().Pause(); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("RUN_409", "Failed to pause run", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Run paused"})
}

// POST /api/v1/run/resume
func (s *Server) resumeRun(c *gin.Context) {
	if err := s.lm.Engine().Resume(); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("RUN_409", "Failed to resume run", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Run resumed"})
}

// POST /api/v1/run/step
func (s *Server) stepRun(c *gin.Context) {
	if err := s.lm.Engine().StepOnce(); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("RUN_409", "Failed to release step", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Step released"})
}

// POST /api/v1/run/step-mode
func (s *Server) setStepMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "Invalid request body", err.Error()))
		return
	}

	s.lm.Engine().SetStepMode(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"step_mode": *req.Enabled})
}

// POST /api/v1/run/stop
func (s *Server) stopRun(c *gin.Context) {
	if err := s.lm.Engine().Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RUN_500", "Failed to stop run", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Run stopped"})
}

// POST /api/v1/run/reset
func (s *Server) resetRun(c *gin.Context) {
	if err := s.lm.Engine().Reset(); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("RUN_409", "Failed to reset run", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Engine reset"})
}

// POST /api/v1/run/message
func (s *Server) recordRunMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUN_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Engine().RecordMessage(req.Message); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("RUN_409", "Failed to record message", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message queued for the next log row"})
}
