package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbilling/internal/lifecycle"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBytes = 1 << 20
)

// HandleSubscriptionWebhook verifies an inbound processor notification and
// routes lifecycle events. Every other verified event is acknowledged.
func (s *Server) HandleSubscriptionWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.verifier.Verify(payload, c.GetHeader(signatureHeader))
	if err != nil {
		s.log.Warn("webhook rejected", zap.Error(err))
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	if paymentdomain.IsLifecycleEvent(event.Type) {
		if event.SubscriptionID == "" {
			c.String(http.StatusBadRequest, "Webhook Error: %s", paymentdomain.ErrInvalidEvent.Error())
			return
		}
		if _, err := s.lifecycle.HandleEvent(c.Request.Context(), event.Type, event.SubscriptionID); err != nil {
			if errors.Is(err, lifecycle.ErrSubscriptionNotMapped) {
				s.log.Info("webhook for unmapped subscription",
					zap.String("event_id", event.ID),
					zap.String("event_type", event.Type),
					zap.String("external_subscription_id", event.SubscriptionID),
				)
			}
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "event": event.Type})
}
