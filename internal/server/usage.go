package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
)

// ReportUsage records one billable action. Rows that failed upstream are
// listed next to the ones that were accepted.
func (s *Server) ReportUsage(c *gin.Context) {
	result, err := s.usage.ReportUsage(c.Request.Context(), c.Param("tenant_id"), c.Param("unit"))
	if result == nil || (err != nil && len(result.Reported) == 0) {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"data": result}
	if err != nil {
		failures := multierr.Errors(err)
		messages := make([]string, 0, len(failures))
		for _, failure := range failures {
			messages = append(messages, failure.Error())
		}
		resp["errors"] = messages
	}
	c.JSON(http.StatusOK, resp)
}
