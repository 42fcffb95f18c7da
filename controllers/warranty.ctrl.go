package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/servicemart/ledgerhub/lib/warranty"
)

// WarrantyController : manual transitions of warranty holds
type WarrantyController struct {
	svc *service.LedgerhubService
}

func NewWarrantyController(svc *service.LedgerhubService) *WarrantyController {
	return &WarrantyController{svc: svc}
}

type TransitionRequestBody struct {
	Reason string `json:"reason"`
	// forfeit only, defaults to FORFEIT_DESTINATION
	Destination string `json:"destination" validate:"omitempty,oneof=DEALER PLATFORM"`
}

func (controller *WarrantyController) Get(c echo.Context) error {
	hold, err := controller.svc.Warranty.Get(c.Request().Context(), c.Param("hold_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

// Active godoc
// @Summary      Active warranty hold of a job
// @Produce      json
// @Tags         Warranty
// @Param        job_id  path      string  true  "Job ID"
// @Success      200     {object}  models.WarrantyHold
// @Failure      404     {object}  responses.ErrorResponse
// @Router       /v1/jobs/{job_id}/warranty [get]
func (controller *WarrantyController) Active(c echo.Context) error {
	hold, err := controller.svc.Warranty.GetActiveForJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

// Freeze godoc
// @Summary      Freeze a hold while a dispute is handled
// @Accept       json
// @Produce      json
// @Tags         Warranty
// @Param        hold_id  path      string                 true  "Hold ID"
// @Param        body     body      TransitionRequestBody  true  "Reason"
// @Success      200      {object}  models.WarrantyHold
// @Failure      409      {object}  responses.ErrorResponse
// @Router       /v1/warranty/{hold_id}/freeze [post]
func (controller *WarrantyController) Freeze(c echo.Context) error {
	body, err := controller.bind(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	hold, err := controller.svc.Warranty.Freeze(ctx, c.Param("hold_id"), body.Reason, common.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

func (controller *WarrantyController) Unfreeze(c echo.Context) error {
	ctx := c.Request().Context()
	hold, err := controller.svc.Warranty.Unfreeze(ctx, c.Param("hold_id"), common.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

func (controller *WarrantyController) Release(c echo.Context) error {
	body, err := controller.bind(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	hold, err := controller.svc.Warranty.Release(ctx, c.Param("hold_id"), body.Reason, common.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

// Forfeit godoc
// @Summary      Forfeit a hold
// @Description  Credits the dealer receivable or the platform commission account
// @Accept       json
// @Produce      json
// @Tags         Warranty
// @Param        hold_id  path      string                 true  "Hold ID"
// @Param        body     body      TransitionRequestBody  true  "Reason and destination"
// @Success      200      {object}  models.WarrantyHold
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      409      {object}  responses.ErrorResponse
// @Router       /v1/warranty/{hold_id}/forfeit [post]
func (controller *WarrantyController) Forfeit(c echo.Context) error {
	body, err := controller.bind(c)
	if err != nil {
		return err
	}
	destination := controller.svc.ForfeitDestination()
	if body.Destination != "" {
		destination = warranty.ForfeitDestination(body.Destination)
	}
	ctx := c.Request().Context()
	hold, err := controller.svc.Warranty.Forfeit(ctx, c.Param("hold_id"), body.Reason, destination, common.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hold)
}

func (controller *WarrantyController) bind(c echo.Context) (*TransitionRequestBody, error) {
	body := &TransitionRequestBody{}
	if err := c.Bind(body); err != nil {
		c.Logger().Errorf("Failed to load warranty request body: %v", err)
		return nil, err
	}
	if err := c.Validate(body); err != nil {
		return nil, common.NewValidationError("destination", "must be DEALER or PLATFORM")
	}
	return body, nil
}
