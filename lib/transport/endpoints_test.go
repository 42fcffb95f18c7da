package transport_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/dbtest"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/reconciler"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/servicemart/ledgerhub/lib/tokens"
	"github.com/servicemart/ledgerhub/lib/transport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/ziflex/lecho/v3"
)

const adminToken = "admin-key"

var jwtSecret = []byte("jwt-secret")

type EndpointsTestSuite struct {
	suite.Suite
	svc  *service.LedgerhubService
	echo *echo.Echo
}

func (suite *EndpointsTestSuite) SetupTest() {
	t := suite.T()
	t.Setenv("DATABASE_URI", "file::memory:")
	c := &service.Config{}
	suite.Require().NoError(envconfig.Process("", c))
	c.AdminToken = adminToken
	c.JWTSecret = jwtSecret
	c.DefaultRateLimit = 1000
	c.StrictRateLimit = 1000
	c.BurstRateLimit = 1000

	logger := lecho.New(io.Discard)
	suite.svc = service.New(c, dbtest.Open(t), logger, nil)
	suite.echo = transport.InitEcho(c, logger)
	secured := suite.echo.Group("", tokens.Middleware(c.JWTSecret), transport.CreateLoggingMiddleware(logger))
	transport.RegisterEndpoints(suite.svc, suite.echo, secured,
		transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit),
		tokens.AdminTokenMiddleware(c.AdminToken))
}

func (suite *EndpointsTestSuite) do(method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		suite.Require().NoError(json.NewEncoder(buf).Encode(body))
		reader = buf
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *EndpointsTestSuite) decode(rec *httptest.ResponseRecorder, v interface{}) {
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

func splitBody(total int64) map[string]interface{} {
	return map[string]interface{}{
		"payment_id":    "pay-1",
		"technician_id": "tech-1",
		"dealer_id":     "dealer-1",
		"total_amount":  decimal.NewFromInt(total),
		"job_type":      "REPAIR",
	}
}

func (suite *EndpointsTestSuite) TestHealth() {
	rec := suite.do(http.MethodGet, "/health", nil, false)
	suite.Equal(http.StatusOK, rec.Code)
	suite.JSONEq(`{"result":"OK","dropped_notifications":0}`, rec.Body.String())
}

func (suite *EndpointsTestSuite) TestSplitRequiresAdminToken() {
	rec := suite.do(http.MethodPost, "/v1/jobs/job-1/payments", splitBody(10000), false)
	suite.NotEqual(http.StatusCreated, rec.Code)

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/ledger", nil, false)
	suite.Equal(http.StatusOK, rec.Code)
	suite.JSONEq(`{"job_id":"job-1","entries":[]}`, rec.Body.String())
}

func (suite *EndpointsTestSuite) TestSplitAndQueryLedger() {
	rec := suite.do(http.MethodPost, "/v1/jobs/job-1/payments", splitBody(10000), true)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var payment struct {
		Payment struct {
			ImmediateAmount    decimal.Decimal `json:"immediate_amount"`
			WarrantyHoldAmount decimal.Decimal `json:"warranty_hold_amount"`
			Status             string          `json:"status"`
		} `json:"payment"`
	}
	suite.decode(rec, &payment)
	suite.Equal("8000.00", payment.Payment.ImmediateAmount.StringFixed(2))
	suite.Equal("2000.00", payment.Payment.WarrantyHoldAmount.StringFixed(2))
	suite.Equal(common.SettlementStatusEscrowHold, payment.Payment.Status)

	rec = suite.do(http.MethodPost, "/v1/jobs/job-1/payments", splitBody(10000), true)
	suite.Equal(http.StatusConflict, rec.Code)

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/ledger/verify", nil, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	balance := &ledger.JobBalance{}
	suite.decode(rec, balance)
	suite.True(balance.Balanced)
	suite.Equal(4, balance.Entries)

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/accounts/DEALER_RECEIVABLE/balance?owner_id=dealer-1", nil, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var receivable struct {
		Balance decimal.Decimal `json:"balance"`
	}
	suite.decode(rec, &receivable)
	suite.Equal("-10000.00", receivable.Balance.StringFixed(2))

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/accounts/NOT_A_TYPE/balance", nil, false)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *EndpointsTestSuite) TestForfeitToPlatform() {
	rec := suite.do(http.MethodPost, "/v1/jobs/job-1/payments", splitBody(5000), true)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/warranty", nil, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	hold := &models.WarrantyHold{}
	suite.decode(rec, hold)
	suite.Equal(common.HoldStatusLocked, hold.Status)

	rec = suite.do(http.MethodPost, "/v1/warranty/"+hold.ID+"/forfeit", map[string]string{"reason": "faulty work", "destination": "CHARITY"}, true)
	suite.Equal(http.StatusBadRequest, rec.Code)

	rec = suite.do(http.MethodPost, "/v1/warranty/"+hold.ID+"/forfeit", map[string]string{"reason": "faulty work", "destination": "PLATFORM"}, true)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	suite.decode(rec, hold)
	suite.Equal(common.HoldStatusForfeited, hold.Status)

	rec = suite.do(http.MethodPost, "/v1/warranty/"+hold.ID+"/release", nil, true)
	suite.Equal(http.StatusConflict, rec.Code)

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/accounts/PLATFORM_COMMISSION/balance", nil, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var platform struct {
		Balance decimal.Decimal `json:"balance"`
	}
	suite.decode(rec, &platform)
	suite.Equal("1000.00", platform.Balance.StringFixed(2))

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/warranty", nil, false)
	suite.Equal(http.StatusNotFound, rec.Code)
}

func (suite *EndpointsTestSuite) TestMarginRejection() {
	rec := suite.do(http.MethodPost, "/v1/commission/margin-rules", map[string]interface{}{
		"applies_to":      "ALL",
		"threshold_type":  "FIXED",
		"threshold_value": decimal.NewFromInt(500),
		"auto_reject":     true,
	}, true)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodPost, "/v1/jobs/job-1/payments", splitBody(10000), true)
	suite.Require().Equal(http.StatusUnprocessableEntity, rec.Code)
	resp := &responses.ErrorResponse{}
	suite.decode(rec, resp)
	suite.Equal(responses.PolicyRejectedError.Code, resp.Code)
	suite.Equal("500.00", resp.Details.(map[string]interface{})["shortfall"])

	rec = suite.do(http.MethodGet, "/v1/jobs/job-1/ledger", nil, false)
	suite.JSONEq(`{"job_id":"job-1","entries":[]}`, rec.Body.String())
}

func (suite *EndpointsTestSuite) TestCommissionRules() {
	rec := suite.do(http.MethodPost, "/v1/commission/rules", map[string]interface{}{
		"commission_type":  "PERCENTAGE",
		"commission_value": decimal.NewFromInt(5),
		"dealer_id":        "dealer-1",
	}, true)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	rule := &models.CommissionRule{}
	suite.decode(rec, rule)

	rec = suite.do(http.MethodPost, "/v1/commission/resolve", map[string]interface{}{
		"total_amount": decimal.NewFromInt(10000),
		"dealer_id":    "dealer-1",
	}, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var resolved struct {
		Commission struct {
			Amount decimal.Decimal `json:"amount"`
			RuleID string          `json:"rule_id"`
		} `json:"commission"`
	}
	suite.decode(rec, &resolved)
	suite.Equal("500.00", resolved.Commission.Amount.StringFixed(2))
	suite.Equal(rule.ID, resolved.Commission.RuleID)

	rec = suite.do(http.MethodDelete, "/v1/commission/rules/"+rule.ID, nil, true)
	suite.Equal(http.StatusNoContent, rec.Code)
	rec = suite.do(http.MethodDelete, "/v1/commission/rules/"+rule.ID, nil, true)
	suite.Equal(http.StatusConflict, rec.Code)

	rec = suite.do(http.MethodGet, "/v1/commission/rules?active=true", nil, false)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.JSONEq(`{"rules":[]}`, rec.Body.String())

	rec = suite.do(http.MethodGet, "/v1/commission/rules?active=maybe", nil, false)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *EndpointsTestSuite) TestReconcilerAndAudit() {
	rec := suite.do(http.MethodPost, "/v1/admin/reconciler/nope/run", nil, true)
	suite.Equal(http.StatusNotFound, rec.Code)

	rec = suite.do(http.MethodPost, "/v1/admin/reconciler/"+reconciler.TaskBidTimeout+"/run", nil, true)
	suite.Require().Equal(http.StatusOK, rec.Code)
	result := &reconciler.SweepResult{}
	suite.decode(rec, result)
	suite.Equal(reconciler.TaskBidTimeout, result.Task)

	token, err := tokens.GenerateToken(jwtSecret, common.Actor{UserID: "ops-1", Role: common.RoleAdmin}, time.Hour)
	suite.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/payments", bytes.NewBufferString(`{"technician_id":"tech-1","dealer_id":"dealer-1","total_amount":"1000"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("X-Admin-Token", adminToken)
	rec = httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodGet, "/v1/audit?job_id=job-1&action=PAYMENT_SPLIT", nil, true)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var records struct {
		Records []models.AuditLog `json:"records"`
	}
	suite.decode(rec, &records)
	suite.Require().Len(records.Records, 1)
	suite.Equal("ops-1", records.Records[0].UserID)

	rec = suite.do(http.MethodGet, "/v1/audit?limit=-1", nil, true)
	suite.Equal(http.StatusBadRequest, rec.Code)
	rec = suite.do(http.MethodGet, "/v1/audit", nil, false)
	assert.NotEqual(suite.T(), http.StatusOK, rec.Code)
}

func TestEndpointsTestSuite(t *testing.T) {
	suite.Run(t, new(EndpointsTestSuite))
}
