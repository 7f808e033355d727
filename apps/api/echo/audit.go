package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
)

type auditApi struct {
	svc *audit.Service
}

func registerAuditAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *audit.Service, bgSvc *breakglass.Service) {
	api := auditApi{svc: svc}

	mw := append(append([]echo.MiddlewareFunc{}, authed...), breakGlassMiddleware(bgSvc))
	ag := g.Group("/audit-logs", mw...)
	ag.GET("", api.query)
}

func (api *auditApi) query(ctx echo.Context) error {
	filter := new(audit.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []audit.Entry{})
	}
	filter.Action = core.CleanString(filter.Action)
	filter.Status = core.CleanString(filter.Status)
	ordering := new(Ordering)
	ordering.Bind(ctx)

	entries, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying audit entries")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}
