package transport

import (
	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/controllers"
	"github.com/servicemart/ledgerhub/lib/service"
)

// RegisterEndpoints mounts the v1 surface. Reads go through secured, which
// resolves the acting user. Mutations additionally pass the strict rate limit
// and the admin token.
func RegisterEndpoints(svc *service.LedgerhubService, e *echo.Echo, secured *echo.Group, strictRateLimitMiddleware echo.MiddlewareFunc, adminMw echo.MiddlewareFunc) {
	e.GET("/health", controllers.NewHealthController(svc).Check)

	paymentCtrl := controllers.NewPaymentController(svc)
	ledgerCtrl := controllers.NewLedgerController(svc)
	warrantyCtrl := controllers.NewWarrantyController(svc)
	commissionCtrl := controllers.NewCommissionController(svc)

	secured.POST("/v1/jobs/:job_id/payments", paymentCtrl.Split, strictRateLimitMiddleware, adminMw)
	secured.GET("/v1/jobs/:job_id/payments", paymentCtrl.Get)
	secured.GET("/v1/jobs/:job_id/ledger", ledgerCtrl.Entries)
	secured.GET("/v1/jobs/:job_id/ledger/verify", ledgerCtrl.Verify)
	secured.POST("/v1/jobs/:job_id/ledger/:pair_id/reverse", ledgerCtrl.Reverse, strictRateLimitMiddleware, adminMw)
	secured.GET("/v1/jobs/:job_id/accounts", ledgerCtrl.Accounts)
	secured.GET("/v1/jobs/:job_id/accounts/:account_type/balance", ledgerCtrl.Balance)
	secured.GET("/v1/jobs/:job_id/warranty", warrantyCtrl.Active)

	secured.GET("/v1/warranty/:hold_id", warrantyCtrl.Get)
	secured.POST("/v1/warranty/:hold_id/freeze", warrantyCtrl.Freeze, adminMw)
	secured.POST("/v1/warranty/:hold_id/unfreeze", warrantyCtrl.Unfreeze, adminMw)
	secured.POST("/v1/warranty/:hold_id/release", warrantyCtrl.Release, adminMw)
	secured.POST("/v1/warranty/:hold_id/forfeit", warrantyCtrl.Forfeit, adminMw)

	secured.POST("/v1/commission/resolve", commissionCtrl.Resolve)
	secured.GET("/v1/commission/rules", commissionCtrl.ListRules)
	secured.POST("/v1/commission/rules", commissionCtrl.CreateRule, adminMw)
	secured.DELETE("/v1/commission/rules/:rule_id", commissionCtrl.DeactivateRule, adminMw)
	secured.POST("/v1/commission/margin-rules", commissionCtrl.CreateMarginRule, adminMw)

	secured.GET("/v1/audit", controllers.NewAuditController(svc).List, adminMw)
	secured.POST("/v1/admin/reconciler/:task/run", controllers.NewReconcilerController(svc).Run, strictRateLimitMiddleware, adminMw)
}
