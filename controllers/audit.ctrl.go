package controllers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/service"
)

type AuditController struct {
	svc *service.LedgerhubService
}

func NewAuditController(svc *service.LedgerhubService) *AuditController {
	return &AuditController{svc: svc}
}

type AuditResponseBody struct {
	Records []models.AuditLog `json:"records"`
}

// List godoc
// @Summary      Query the audit trail
// @Description  Newest first
// @Produce      json
// @Tags         Audit
// @Param        job_id   query     string  false  "Job ID"
// @Param        user_id  query     string  false  "Acting user"
// @Param        action   query     string  false  "Action"
// @Param        limit    query     int     false  "Max records"
// @Success      200      {object}  AuditResponseBody
// @Failure      400      {object}  responses.ErrorResponse
// @Router       /v1/audit [get]
func (controller *AuditController) List(c echo.Context) error {
	filter := audit.Filter{
		JobID:  c.QueryParam("job_id"),
		UserID: c.QueryParam("user_id"),
		Action: c.QueryParam("action"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return common.NewValidationError("limit", "must be a positive integer")
		}
		filter.Limit = limit
	}
	records, err := controller.svc.Audit.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &AuditResponseBody{Records: records})
}
