package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/loop/internal/redemption/domain"
	rewarddomain "github.com/smallbiznis/loop/internal/reward/domain"
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
	Type     string            `json:"type"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Balance  *int64            `json:"balance,omitempty"`
	Required *int64            `json:"required,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
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
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// classifyErrorForLog feeds the request logger the same type and code the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return internalError.status, internalError.payload()
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors)
	}
	if isValidationError(err) {
		code, message := validationErrorDetail(err)
		return http.StatusBadRequest, validationPayload([]ValidationError{{
			Field:   validationErrorField(code),
			Code:    code,
			Message: message,
		}})
	}

	var insufficient *redemptiondomain.InsufficientPointsError
	if errors.As(err, &insufficient) && insufficient != nil {
		balance, required := insufficient.Balance, insufficient.Required
		payload := insufficientPoints.payload()
		payload.Balance, payload.Required = &balance, &required
		return insufficientPoints.status, payload
	}

	for _, m := range sentinelErrors {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				return m.status, m.payload()
			}
		}
	}
	return internalError.status, internalError.payload()
}

// errorMapping is the client-facing shape of one or more domain sentinels.
type errorMapping struct {
	targets []error
	status  int
	kind    string
	code    string
	message string
}

func (m errorMapping) payload() errorPayload {
	return errorPayload{Type: m.kind, Code: m.code, Message: m.message}
}

var (
	internalError = errorMapping{
		status: http.StatusInternalServerError, kind: "internal_error", code: "internal_error", message: "internal server error",
	}
	insufficientPoints = errorMapping{
		targets: []error{redemptiondomain.ErrInsufficientPoints},
		status:  http.StatusUnprocessableEntity, kind: "unprocessable_entity", code: "insufficient_points", message: "insufficient points",
	}
)

// Order matters: the first mapping whose target matches wins.
var sentinelErrors = []errorMapping{
	insufficientPoints,
	{
		targets: []error{redemptiondomain.ErrAlreadyRedeemed},
		status:  http.StatusConflict, kind: "conflict", code: "already_redeemed", message: "reward already redeemed",
	},
	{
		targets: []error{redemptiondomain.ErrRewardInactive},
		status:  http.StatusBadRequest, kind: "invalid_request", code: "reward_inactive", message: "reward is not active",
	},
	{
		targets: []error{redemptiondomain.ErrRewardNotFound, rewarddomain.ErrNotFound},
		status:  http.StatusNotFound, kind: "not_found", code: "reward_not_found", message: "reward not found",
	},
	{
		targets: []error{ledgerdomain.ErrSourceEventNotFound},
		status:  http.StatusNotFound, kind: "not_found", code: "source_event_not_found", message: "source event not found",
	},
	{
		targets: []error{eventdomain.ErrNotFound},
		status:  http.StatusNotFound, kind: "not_found", code: "event_not_found", message: "event not found",
	},
	{
		targets: []error{ErrNotFound},
		status:  http.StatusNotFound, kind: "not_found", code: "not_found", message: "not found",
	},
	{
		targets: []error{ErrRateLimited},
		status:  http.StatusTooManyRequests, kind: "rate_limited", code: "rate_limited", message: "too many requests",
	},
	{
		targets: []error{ErrServiceUnavailable},
		status:  http.StatusServiceUnavailable, kind: "service_unavailable", code: "service_unavailable", message: "service unavailable",
	},
}

// validationPayload reports a single field's code directly and a generic code for several.
func validationPayload(fields []ValidationError) errorPayload {
	code := "validation_error"
	if len(fields) == 1 {
		code = fields[0].Code
	}
	return errorPayload{Type: "validation_error", Code: code, Message: "validation error", Errors: fields}
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
	case errors.Is(err, ErrInvalidRequest):
		return true
	case eventdomain.IsValidationError(err),
		ledgerdomain.IsValidationError(err),
		rewarddomain.IsValidationError(err),
		redemptiondomain.IsValidationError(err):
		return true
	default:
		return false
	}
}

// validationErrorDetail splits "invalid_payload: stars must be 1..5" into its code and detail.
func validationErrorDetail(err error) (string, string) {
	code, detail, found := strings.Cut(err.Error(), ":")
	code = strings.TrimSpace(code)
	detail = strings.TrimSpace(detail)
	if !found || detail == "" {
		detail = validationErrorMessage(code)
	}
	return code, detail
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	field, _ := strings.CutPrefix(code, "invalid_")
	if field == code {
		return ""
	}
	return field
}

func validationErrorMessage(code string) string {
	if code == "invalid_request" {
		return "invalid request"
	}
	return "invalid value"
}
