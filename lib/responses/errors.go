package responses

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
)

type ErrorResponse struct {
	Error          bool        `json:"error"`
	Code           int         `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	HttpStatusCode int         `json:"-"`
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: http.StatusUnauthorized,
}

var ValidationError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invalid request",
	HttpStatusCode: http.StatusBadRequest,
}

var ConflictError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "conflict",
	HttpStatusCode: http.StatusConflict,
}

var PolicyRejectedError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "rejected by policy",
	HttpStatusCode: http.StatusUnprocessableEntity,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "not found",
	HttpStatusCode: http.StatusNotFound,
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: http.StatusInternalServerError,
}

var UnavailableError = ErrorResponse{
	Error:          true,
	Code:           7,
	Message:        "temporarily unavailable, please retry",
	HttpStatusCode: http.StatusServiceUnavailable,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: http.StatusBadRequest,
}

// Rejection details returned with a 422.
type rejectionDetails struct {
	RuleID           string `json:"rule_id,omitempty"`
	CommissionAmount string `json:"commission_amount"`
	MinimumRequired  string `json:"minimum_required"`
	Shortfall        string `json:"shortfall"`
}

// ErrorFor maps the error taxonomy onto a response. The message of client
// errors is passed through, server errors are generic.
func ErrorFor(err error) ErrorResponse {
	var rejection *common.PolicyRejection
	var transient *common.TransientError
	var resp ErrorResponse
	switch {
	case errors.As(err, &rejection):
		resp = PolicyRejectedError
		resp.Details = rejectionDetails{
			RuleID:           rejection.RuleID,
			CommissionAmount: rejection.CommissionAmount.StringFixed(2),
			MinimumRequired:  rejection.MinimumRequired.StringFixed(2),
			Shortfall:        rejection.Shortfall.StringFixed(2),
		}
	case errors.Is(err, common.ErrIncompleteSettlement):
		resp = ConflictError
	case errors.Is(err, common.ErrValidation):
		resp = ValidationError
	case errors.Is(err, common.ErrConflict):
		resp = ConflictError
	case errors.Is(err, common.ErrNotFound):
		resp = NotFoundError
	case errors.As(err, &transient):
		return UnavailableError
	default:
		return GeneralServerError
	}
	resp.Message = err.Error()
	return resp
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("UserID", c.Get("UserID"))
			hub.CaptureException(err)
		})
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		c.JSON(he.Code, he.Message)
		return
	}
	resp := ErrorFor(err)
	c.JSON(resp.HttpStatusCode, resp)
}

// isErrAllowedForSentry drops client errors: bad auth, bad input and the
// expected outcomes of the error taxonomy.
func isErrAllowedForSentry(err error) bool {
	if common.IsClientError(err) {
		return false
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code < http.StatusInternalServerError {
			switch msg := he.Message.(type) {
			case echo.Map:
				return msg["code"] != BadAuthError.Code
			case ErrorResponse:
				return msg.Code != BadAuthError.Code
			}
			return he.Code != http.StatusUnauthorized
		}
	}
	return true
}
