package controllers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/commission"
	"github.com/servicemart/ledgerhub/lib/responses"
	"github.com/servicemart/ledgerhub/lib/service"
)

// CommissionController : commission preview and rule administration
type CommissionController struct {
	svc *service.LedgerhubService
}

func NewCommissionController(svc *service.LedgerhubService) *CommissionController {
	return &CommissionController{svc: svc}
}

type ResolveRequestBody struct {
	commission.ProductOrderRequest
	IsProduct bool `json:"is_product"`
}

type ResolveResponseBody struct {
	Commission *commission.Resolution  `json:"commission"`
	Margin     *commission.MarginCheck `json:"margin"`
}

type RulesResponseBody struct {
	Rules []models.CommissionRule `json:"rules"`
}

// Resolve godoc
// @Summary      Preview the commission of a transaction
// @Description  Resolves the commission rule and runs the minimum margin check without posting anything
// @Accept       json
// @Produce      json
// @Tags         Commission
// @Param        body  body      ResolveRequestBody  true  "Transaction"
// @Success      200   {object}  ResolveResponseBody
// @Failure      400   {object}  responses.ErrorResponse
// @Router       /v1/commission/resolve [post]
func (controller *CommissionController) Resolve(c echo.Context) error {
	var body ResolveRequestBody
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load resolve request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	ctx := c.Request().Context()
	resolver := controller.svc.Commission

	var res *commission.Resolution
	var err error
	if body.IsProduct {
		res, err = resolver.ResolveProductOrder(ctx, body.ProductOrderRequest)
	} else {
		res, err = resolver.Resolve(ctx, body.Request)
	}
	if err != nil {
		return err
	}
	margin, err := resolver.CheckMinimumMargin(ctx, res.Amount, body.TotalAmount, !body.IsProduct, body.IsProduct)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &ResolveResponseBody{Commission: res, Margin: margin})
}

// ListRules godoc
// @Summary      List commission rules
// @Produce      json
// @Tags         Commission
// @Param        active  query     bool  false  "Only active rules"
// @Success      200     {object}  RulesResponseBody
// @Router       /v1/commission/rules [get]
func (controller *CommissionController) ListRules(c echo.Context) error {
	activeOnly := false
	if raw := c.QueryParam("active"); raw != "" {
		var err error
		activeOnly, err = strconv.ParseBool(raw)
		if err != nil {
			return common.NewValidationError("active", "must be a boolean")
		}
	}
	rules, err := controller.svc.Commission.ListRules(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &RulesResponseBody{Rules: rules})
}

func (controller *CommissionController) CreateRule(c echo.Context) error {
	var body commission.RuleInput
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load commission rule body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return common.NewValidationError("commission_type", "must be PERCENTAGE or FIXED")
	}
	rule, err := controller.svc.Commission.CreateRule(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rule)
}

func (controller *CommissionController) DeactivateRule(c echo.Context) error {
	if err := controller.svc.Commission.DeactivateRule(c.Request().Context(), c.Param("rule_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (controller *CommissionController) CreateMarginRule(c echo.Context) error {
	var body commission.MarginRuleInput
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load margin rule body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return common.NewValidationError("margin rule", "%v", err)
	}
	rule, err := controller.svc.Commission.CreateMarginRule(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rule)
}
