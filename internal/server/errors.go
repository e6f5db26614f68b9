package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"github.com/smallbiznis/tenantbilling/internal/lifecycle"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")

	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
			Code:    codeOf(err),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, checkoutdomain.ErrAlreadyProcessed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    codeOf(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
			Code:    codeOf(err),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
			Code:    codeOf(err),
		}
	case isConsistencyError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "consistency_error",
			Message: "billing data is inconsistent",
			Code:    codeOf(err),
		}
	case errors.Is(err, paymentdomain.ErrProcessor):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_processor_error",
			Message: "payment processor request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, plan.ErrInvalidProduct),
		errors.Is(err, plan.ErrInvalidPrice),
		errors.Is(err, plan.ErrInvalidQuantity),
		errors.Is(err, plan.ErrInvalidCurrency),
		errors.Is(err, plan.ErrInvalidBillingPeriod),
		errors.Is(err, checkoutdomain.ErrInvalidTenant),
		errors.Is(err, checkoutdomain.ErrInvalidSession),
		errors.Is(err, subscriptiondomain.ErrInvalidTenant),
		errors.Is(err, creditdomain.ErrInvalidTenant),
		errors.Is(err, creditdomain.ErrInvalidType),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidRange),
		errors.Is(err, usagedomain.ErrInvalidTenant),
		errors.Is(err, usagedomain.ErrInvalidUnit),
		errors.Is(err, catalogdomain.ErrInvalidID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrNotFound),
		errors.Is(err, checkoutdomain.ErrSessionNotTracked),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrProductNotFound),
		errors.Is(err, lifecycle.ErrSubscriptionNotMapped),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConsistencyError(err error) bool {
	switch {
	case errors.Is(err, checkoutdomain.ErrCustomerMismatch),
		errors.Is(err, checkoutdomain.ErrUnknownPrice),
		errors.Is(err, catalogdomain.ErrInvalidTiers),
		errors.Is(err, usagedomain.ErrSubscriptionItemGone):
		return true
	default:
		return false
	}
}

// codeOf returns the innermost sentinel code of err.
func codeOf(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorCode(err error) string {
	return codeOf(err)
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
