package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
)

type HealthController struct {
	svc *service.LedgerhubService
}

func NewHealthController(svc *service.LedgerhubService) *HealthController {
	return &HealthController{svc: svc}
}

type HealthResponse struct {
	Result               string `json:"result"`
	DroppedNotifications int64  `json:"dropped_notifications"`
}

// Check godoc
// @Summary      Check system health
// @Description  Pings the database and reports dropped notifications
// @Produce      json
// @Tags         System
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /health [get]
func (controller *HealthController) Check(c echo.Context) error {
	if err := controller.svc.DB.PingContext(c.Request().Context()); err != nil {
		c.Logger().Errorf("Health check failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, responses.UnavailableError)
	}
	return c.JSON(http.StatusOK, &HealthResponse{
		Result:               "OK",
		DroppedNotifications: controller.svc.Notifications.Dropped(),
	})
}
