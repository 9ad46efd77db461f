package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"benchlink/internal/types"
)

// POST /api/v1/scripts/validate
// Returns the full findings report instead of failing on the first error,
// the GUI shows all of them at once.
func (s *Server) validateScript(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCRIPT_400", "Failed to read request body", err.Error()))
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCRIPT_400", "Empty request body", "send the script document to validate"))
		return
	}

	report := s.lm.Validator().Report(data, s.benchLookup())
	c.JSON(http.StatusOK, report)
}
