package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
)

type appendCreditRequest struct {
	UserID    *string `json:"user_id"`
	Type      string  `json:"type"`
	ObjectRef *string `json:"object_ref"`
	Amount    int64   `json:"amount"`
}

func (s *Server) AppendCredit(c *gin.Context) {
	var req appendCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.credits.Append(c.Request.Context(), creditdomain.AppendRequest{
		TenantID:  c.Param("tenant_id"),
		UserID:    trimOptional(req.UserID),
		Type:      strings.TrimSpace(req.Type),
		ObjectRef: trimOptional(req.ObjectRef),
		Amount:    req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
