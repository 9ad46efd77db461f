package rest

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"benchlink/internal/storage"
	"benchlink/internal/types"
)

// archive guards the optional database behind every history endpoint.
func (s *Server) archive(c *gin.Context) *storage.PostgresClient {
	client := s.lm.Archive()
	if client == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("ARCHIVE_503", "Run archive disabled", "enable the database section in the configuration"))
		return nil
	}
	return client
}

// GET /api/v1/runs
func (s *Server) listRuns(c *gin.Context) {
	client := s.archive(c)
	if client == nil {
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("ARCHIVE_400", "Invalid limit", v))
			return
		}
		limit = n
	}

	runs, err := client.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ARCHIVE_500", "Failed to list runs", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	client := s.archive(c)
	if client == nil {
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ARCHIVE_400", "Invalid run id", err.Error()))
		return
	}

	run, err := client.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("ARCHIVE_404", "Run not found", runID.String()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ARCHIVE_500", "Failed to load run", err.Error()))
		return
	}

	steps, err := client.RunSteps(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ARCHIVE_500", "Failed to load run steps", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "steps": steps})
}

// GET /api/v1/runs/:id/events
func (s *Server) getRunEvents(c *gin.Context) {
	client := s.archive(c)
	if client == nil {
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ARCHIVE_400", "Invalid run id", err.Error()))
		return
	}

	events, err := client.RunEvents(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ARCHIVE_500", "Failed to load run events", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GET /api/v1/runs/:id/log
func (s *Server) downloadRunLog(c *gin.Context) {
	client := s.archive(c)
	if client == nil {
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ARCHIVE_400", "Invalid run id", err.Error()))
		return
	}

	run, err := client.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("ARCHIVE_404", "Run not found", runID.String()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ARCHIVE_500", "Failed to load run", err.Error()))
		return
	}

	if run.LogPath == "" {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("ARCHIVE_404", "Run has no log file", runID.String()))
		return
	}
	if _, err := os.Stat(run.LogPath); err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("ARCHIVE_404", "Log file missing on disk", run.LogPath))
		return
	}

	c.FileAttachment(run.LogPath, filepath.Base(run.LogPath))
}
