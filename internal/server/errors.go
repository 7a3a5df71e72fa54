package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/mutation"
	"github.com/smallbiznis/rosterpay/internal/orchestrator"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/receipt"
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
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	PaymentID string            `json:"payment_id,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	var fieldErrs paymentdomain.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Field:   fe.Field,
				Code:    fe.Rule,
				Message: fe.Error(),
			})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  out,
		}
	}

	var recErr *orchestrator.ReconciliationError
	if errors.As(err, &recErr) {
		return http.StatusBadGateway, errorPayload{
			Type:      "reconciliation_failed",
			Message:   orchestrator.ReconciliationMessage,
			RequestID: recErr.RequestID,
			PaymentID: recErr.PaymentID,
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
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, orchestrator.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many submissions, retry later",
		}
	case errors.Is(err, orchestrator.ErrSubmissionInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "submission_in_progress",
			Message: "a submission for this team is already in progress",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, crdomain.ErrInvalidTransition),
		errors.Is(err, crdomain.ErrDuplicateRequest),
		errors.Is(err, receipt.ErrNotSettled):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code written to request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "internal_error"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
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
		errors.Is(err, crdomain.ErrInvalidID),
		errors.Is(err, crdomain.ErrInvalidChangeType),
		errors.Is(err, crdomain.ErrInvalidTeam),
		errors.Is(err, crdomain.ErrInvalidRequester),
		errors.Is(err, crdomain.ErrInvalidItem),
		errors.Is(err, paymentdomain.ErrMissingParameter),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, crdomain.ErrNotFound),
		errors.Is(err, mutation.ErrTeamNotFound),
		errors.Is(err, receipt.ErrPaymentAbsent),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, crdomain.ErrInvalidTransition):
		return "change request is not in a state that allows this action"
	case errors.Is(err, crdomain.ErrDuplicateRequest):
		return "change request already exists"
	case errors.Is(err, receipt.ErrNotSettled):
		return "change request has not been settled"
	default:
		return "conflict"
	}
}

// validationErrorCode returns the sentinel name without any wrapped detail.
func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		crdomain.ErrInvalidID,
		crdomain.ErrInvalidChangeType,
		crdomain.ErrInvalidTeam,
		crdomain.ErrInvalidRequester,
		crdomain.ErrInvalidItem,
		paymentdomain.ErrMissingParameter,
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrInvalidEvent,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
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

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "missing_parameter":
		return "required parameter missing"
	default:
		return "invalid value"
	}
}
