package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
)

type createCheckoutRequest struct {
	plan.PurchaseIntent
	Email      string `json:"email"`
	UserID     string `json:"user_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		AbortWithError(c, newValidationError("product_id", "required", "product_id is required"))
		return
	}

	resp, err := s.checkout.CreateCheckout(c.Request.Context(), c.Param("tenant_id"), req.PurchaseIntent, checkoutdomain.CheckoutOptions{
		Email:      strings.TrimSpace(req.Email),
		UserID:     strings.TrimSpace(req.UserID),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CheckoutSuccess is the processor's redirect target. It reconciles the
// session before answering.
func (s *Server) CheckoutSuccess(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		AbortWithError(c, newValidationError("session_id", "required", "session_id is required"))
		return
	}

	result, err := s.checkout.Reconcile(c.Request.Context(), c.Param("tenant_id"), sessionID)
	switch {
	case errors.Is(err, checkoutdomain.ErrAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"status": "already_processed", "session_id": sessionID})
		return
	case err != nil:
		AbortWithError(c, err)
		return
	case result == nil:
		c.JSON(http.StatusOK, gin.H{"status": "pending", "session_id": sessionID})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "provisioned", "data": result})
}

func (s *Server) AutoSubscribe(c *gin.Context) {
	result, err := s.checkout.AutoSubscribe(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"status": "skipped"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "subscribed", "data": result})
}
