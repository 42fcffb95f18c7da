package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/servicemart/ledgerhub/lib/settlement"
)

// PaymentController : splits confirmed job payments
type PaymentController struct {
	svc *service.LedgerhubService
}

func NewPaymentController(svc *service.LedgerhubService) *PaymentController {
	return &PaymentController{svc: svc}
}

// Split godoc
// @Summary      Split a confirmed payment
// @Description  Posts commission, payout and warranty hold for a job. A job is split at most once.
// @Accept       json
// @Produce      json
// @Tags         Payment
// @Param        job_id   path      string              true  "Job ID"
// @Param        payment  body      settlement.Request  true  "Confirmed payment"
// @Success      201      {object}  settlement.Result
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      409      {object}  responses.ErrorResponse
// @Failure      422      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/payments [post]
func (controller *PaymentController) Split(c echo.Context) error {
	var body settlement.Request
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load split request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	body.JobID = c.Param("job_id")

	c.Logger().Infof("Splitting payment: job_id:%s payment_id:%s total:%s", body.JobID, body.PaymentID, body.TotalAmount)
	result, err := controller.svc.Settlement.Split(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Get godoc
// @Summary      Settlement record of a job
// @Produce      json
// @Tags         Payment
// @Param        job_id  path      string  true  "Job ID"
// @Success      200     {object}  models.JobPayment
// @Failure      404     {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/payments [get]
func (controller *PaymentController) Get(c echo.Context) error {
	payment, err := controller.svc.Settlement.GetByJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payment)
}
