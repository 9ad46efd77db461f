package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"benchlink/internal/calibration"
	"benchlink/internal/types"
)

// GET /api/v1/calibration
func (s *Server) listCalibration(c *gin.Context) {
	store := s.lm.Calibration()

	records := make(map[string]calibration.Record)
	for _, key := range store.Keys() {
		if rec, ok := store.Record(key); ok {
			records[key] = rec
		}
	}
	c.JSON(http.StatusOK, gin.H{"calibration": records})
}

// GET /api/v1/calibration/:key
func (s *Server) getCalibration(c *gin.Context) {
	key := c.Param("key")

	rec, ok := s.lm.Calibration().Record(key)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CAL_404", "No calibration for key", key))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "record": rec})
}

// PUT /api/v1/calibration/:key
func (s *Server) putCalibration(c *gin.Context) {
	key := c.Param("key")

	var rec calibration.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CAL_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Calibration().Put(key, rec); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CAL_500", "Failed to store calibration", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "record": rec})
}
