package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/lib/reconciler"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
)

type ReconcilerController struct {
	svc *service.LedgerhubService
}

func NewReconcilerController(svc *service.LedgerhubService) *ReconcilerController {
	return &ReconcilerController{svc: svc}
}

// Run godoc
// @Summary      Trigger a reconciler sweep
// @Description  Runs one task now. Returns 409 if the task is already running.
// @Produce      json
// @Tags         Admin
// @Param        task  path      string  true  "Task name"
// @Success      200   {object}  reconciler.SweepResult
// @Failure      404   {object}  responses.ErrorResponse
// @Failure      409   {object}  responses.ErrorResponse
// @Router       /v1/admin/reconciler/{task}/run [post]
func (controller *ReconcilerController) Run(c echo.Context) error {
	name := c.Param("task")
	result, err := controller.svc.Scheduler.RunNow(c.Request().Context(), name)
	switch {
	case errors.Is(err, reconciler.ErrUnknownTask):
		resp := responses.NotFoundError
		resp.Message = err.Error()
		return c.JSON(resp.HttpStatusCode, resp)
	case errors.Is(err, reconciler.ErrAlreadyRunning):
		resp := responses.ConflictError
		resp.Message = err.Error()
		return c.JSON(resp.HttpStatusCode, resp)
	case err != nil:
		return err
	}
	c.Logger().Infof("Manual sweep done: %s", result)
	return c.JSON(http.StatusOK, result)
}
