package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/shopspring/decimal"
)

// LedgerController : read access to a job ledger and manual compensation
type LedgerController struct {
	svc *service.LedgerhubService
}

func NewLedgerController(svc *service.LedgerhubService) *LedgerController {
	return &LedgerController{svc: svc}
}

type EntriesResponseBody struct {
	JobID   string               `json:"job_id"`
	Entries []models.LedgerEntry `json:"entries"`
}

type AccountsResponseBody struct {
	JobID    string                 `json:"job_id"`
	Accounts []models.LedgerAccount `json:"accounts"`
}

type BalanceResponseBody struct {
	JobID       string          `json:"job_id"`
	AccountType string          `json:"account_type"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}

type ReverseRequestBody struct {
	Reason string `json:"reason" validate:"required"`
}

// Entries godoc
// @Summary      List ledger entries of a job
// @Description  Newest first
// @Produce      json
// @Tags         Ledger
// @Param        job_id  path      string  true  "Job ID"
// @Success      200     {object}  EntriesResponseBody
// @Failure      500     {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/ledger [get]
func (controller *LedgerController) Entries(c echo.Context) error {
	jobID := c.Param("job_id")
	entries, err := controller.svc.Ledger.ListJobEntries(c.Request().Context(), jobID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &EntriesResponseBody{JobID: jobID, Entries: entries})
}

func (controller *LedgerController) Accounts(c echo.Context) error {
	jobID := c.Param("job_id")
	accounts, err := controller.svc.Ledger.ListJobAccounts(c.Request().Context(), jobID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &AccountsResponseBody{JobID: jobID, Accounts: accounts})
}

// Verify godoc
// @Summary      Verify the zero-sum invariant of a job
// @Produce      json
// @Tags         Ledger
// @Param        job_id  path      string  true  "Job ID"
// @Success      200     {object}  ledger.JobBalance
// @Router       /v1/jobs/{job_id}/ledger/verify [get]
func (controller *LedgerController) Verify(c echo.Context) error {
	balance, err := controller.svc.Ledger.VerifyJobBalance(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, balance)
}

// Balance godoc
// @Summary      Balance of one account
// @Description  Without owner_id the platform-owned account is read. Unused accounts report 0.
// @Produce      json
// @Tags         Ledger
// @Param        job_id        path      string  true   "Job ID"
// @Param        account_type  path      string  true   "Account type"
// @Param        owner_id      query     string  false  "Owning user"
// @Success      200           {object}  BalanceResponseBody
// @Failure      400           {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/accounts/{account_type}/balance [get]
func (controller *LedgerController) Balance(c echo.Context) error {
	jobID := c.Param("job_id")
	accountType := c.Param("account_type")
	ownerID := c.QueryParam("owner_id")
	owner := ledger.SystemOwner
	if ownerID != "" {
		owner = ledger.UserOwner(ownerID)
	}
	balance, err := controller.svc.Ledger.GetAccountBalance(c.Request().Context(), jobID, owner, accountType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &BalanceResponseBody{
		JobID:       jobID,
		AccountType: accountType,
		OwnerID:     ownerID,
		Balance:     balance,
	})
}

// Reverse godoc
// @Summary      Post a compensating entry pair
// @Description  Reverses a posted pair under the ADJUSTMENT category. History is never deleted.
// @Accept       json
// @Produce      json
// @Tags         Ledger
// @Param        job_id   path      string              true  "Job ID"
// @Param        pair_id  path      string              true  "Pair ID"
// @Param        body     body      ReverseRequestBody  true  "Reason"
// @Success      201      {object}  ledger.PostResult
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      404      {object}  responses.ErrorResponse
// @Failure      409      {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/ledger/{pair_id}/reverse [post]
func (controller *LedgerController) Reverse(c echo.Context) error {
	var body ReverseRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load reverse request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.ErrorFor(common.NewValidationError("reason", "is required")))
	}
	result, err := controller.svc.Ledger.PostCompensation(c.Request().Context(), c.Param("job_id"), c.Param("pair_id"), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}
