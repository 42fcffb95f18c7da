package responses

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadAuthErrorsNotAllowedForSentry(t *testing.T) {
	badAuthErrResponse := echo.NewHTTPError(http.StatusBadRequest, echo.Map{
		"error":   true,
		"code":    1,
		"message": "bad auth",
	})

	isAllowed := isErrAllowedForSentry(badAuthErrResponse)
	assert.False(t, isAllowed)
}

func TestNotBadAuthErrorsAllowedForSentry(t *testing.T) {
	notBadAuthErrResponse := echo.NewHTTPError(http.StatusBadRequest, echo.Map{
		"error":   true,
		"code":    2,
		"message": "not bad auth",
	})

	isAllowed := isErrAllowedForSentry(notBadAuthErrResponse)
	assert.True(t, isAllowed)
}

func TestNonErrorResponseErrorsAllowedForSentry(t *testing.T) {
	assert.True(t, isErrAllowedForSentry(errors.New("random error")))
	assert.True(t, isErrAllowedForSentry(&common.TransientError{Op: "insert", Err: errors.New("timeout")}))
	assert.True(t, isErrAllowedForSentry(fmt.Errorf("split of job j1: %w", common.ErrIncompleteSettlement)))
	assert.False(t, isErrAllowedForSentry(common.NewConflictError("hold", "already released")))
	assert.False(t, isErrAllowedForSentry(fmt.Errorf("hold x: %w", common.ErrNotFound)))
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{common.NewValidationError("total_amount", "must be greater than zero"), http.StatusBadRequest},
		{common.NewConflictError("settlement", "duplicate"), http.StatusConflict},
		{&common.PolicyRejection{Reason: "minimum margin not met"}, http.StatusUnprocessableEntity},
		{&common.TransientError{Op: "insert", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{fmt.Errorf("hold: %w", common.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("split of job j1: %w", common.ErrIncompleteSettlement), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, ErrorFor(tt.err).HttpStatusCode, tt.err.Error())
	}
	assert.Equal(t, GeneralServerError.Message, ErrorFor(errors.New("secret detail")).Message)
}

func TestHTTPErrorHandlerWritesRejection(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	HTTPErrorHandler(&common.PolicyRejection{
		Reason:           "minimum margin not met",
		CommissionAmount: decimal.NewFromInt(500),
		MinimumRequired:  decimal.NewFromInt(800),
		Shortfall:        decimal.NewFromInt(300),
	}, c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(4), body["code"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "300.00", details["shortfall"])
}
