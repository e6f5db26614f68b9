package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListFeatureUsage(c *gin.Context) {
	resp, err := s.entitlements.GetPlanFeaturesUsage(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeatureUsage(c *gin.Context) {
	resp, err := s.entitlements.GetPlanFeatureUsage(c.Request.Context(), c.Param("tenant_id"), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
