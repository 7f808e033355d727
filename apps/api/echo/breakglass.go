package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/authz"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

type breakGlassApi struct {
	svc      *breakglass.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerBreakGlassAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	svc *breakglass.Service,
	usrSvc *user.Service,
	validate *validator.Validate,
) {
	api := breakGlassApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	bg := g.Group("/breakglass", authed...)
	bg.GET("", api.list, adminMiddleware())

	// self-service endpoints: the caller is the escalated user
	bg.POST("/promote", api.promote)
	bg.POST("/release", api.release)

	// detail endpoints
	dg := bg.Group("/:id", targetMiddleware(svc, usrSvc))
	dg.GET("", api.status)
	dg.POST("/activate", api.activate, academicHeadMiddleware())
	dg.POST("/deactivate", api.deactivate)
	dg.GET("/promotion-code", api.revealPromotionCode)
}

// targetMiddleware loads the user of the :id param and its session, if any.
func targetMiddleware(svc *breakglass.Service, usrSvc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			rctx := ctx.Request().Context()
			usr, err := usrSvc.GetByID(rctx, ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return err
				}
				return errors.Wrap(err, "finding user by ID")
			}
			sess, err := svc.GetSession(rctx, usr.ID)
			if err != nil {
				return errors.Wrap(err, "reading break-glass session")
			}
			ctx.Set("object", usr)
			ctx.Set("session", sess)
			return next(ctx)
		}
	}
}

func contextTarget(ctx echo.Context) (user.User, *breakglass.Session) {
	usr, _ := ctx.Get("object").(user.User)
	sess, _ := ctx.Get("session").(*breakglass.Session)
	return usr, sess
}

// managedRoles are the roles the target holds outside of break-glass mode.
func managedRoles(usr user.User, sess *breakglass.Session) []string {
	if sess != nil {
		return sess.OriginalRoles
	}
	return usr.Roles
}

// Handlers

func (api *breakGlassApi) list(ctx echo.Context) error {
	sessions, err := api.svc.ListSessions(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing break-glass sessions")
	}
	if sessions == nil {
		sessions = []breakglass.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *breakGlassApi) status(ctx echo.Context) error {
	usr, sess := contextTarget(ctx)
	if !authz.CanManageUser(contextCaller(ctx), managedRoles(usr, sess)) {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, StatusResponse{UserID: usr.ID, Active: sess != nil, Session: sess})
}

func (api *breakGlassApi) activate(ctx echo.Context) error {
	usr, sess := contextTarget(ctx)
	caller := contextCaller(ctx)
	if !authz.CanManageUser(caller, managedRoles(usr, sess)) {
		return errHttpForbidden
	}

	var data ActivateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActivateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	codes, err := api.svc.Activate(ctx.Request().Context(), usr.ID, data.Reason, caller.ID)
	if err != nil {
		return errors.Wrap(err, "activating break-glass")
	}
	return ctx.JSON(http.StatusCreated, codes)
}

func (api *breakGlassApi) deactivate(ctx echo.Context) error {
	usr, sess := contextTarget(ctx)
	caller := contextCaller(ctx)
	if !authz.CanDeactivate(caller, usr, sess) {
		return errHttpForbidden
	}

	if err := api.svc.Deactivate(ctx.Request().Context(), usr.ID, caller.ID); err != nil {
		return errors.Wrap(err, "deactivating break-glass")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// revealPromotionCode is open to the academic head who activated the session and to admins,
// never to the escalated user itself.
func (api *breakGlassApi) revealPromotionCode(ctx echo.Context) error {
	usr, sess := contextTarget(ctx)
	caller := contextCaller(ctx)
	if sess == nil {
		return breakglass.ErrNoSession
	}
	allowed := caller.ID != usr.ID &&
		(caller.HasRole(user.RoleAdmin) || (sess.ActivatedBy != "" && caller.ID == sess.ActivatedBy))
	if !allowed {
		return errHttpForbidden
	}

	code, err := api.svc.RevealPromotionCode(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "revealing promotion code")
	}
	return ctx.JSON(http.StatusOK, PromotionCodeResponse{PromotionCode: code})
}

func (api *breakGlassApi) promote(ctx echo.Context) error {
	caller := contextCaller(ctx)

	var data PromoteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PromoteRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	if err := api.svc.PromoteToPermanentAdmin(ctx.Request().Context(), caller.ID, data.PromotionCode, caller.ID); err != nil {
		return errors.Wrap(err, "promoting to permanent admin")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *breakGlassApi) release(ctx echo.Context) error {
	caller := contextCaller(ctx)

	var data ReleaseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReleaseRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	if err := api.svc.Release(ctx.Request().Context(), caller.ID, data.SecretCode); err != nil {
		return errors.Wrap(err, "releasing break-glass")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	ActivateRequest struct {
		Reason string `json:"reason" validate:"required,notblank"`
	}

	PromoteRequest struct {
		PromotionCode string `json:"promotion_code" validate:"required"`
	}

	ReleaseRequest struct {
		SecretCode string `json:"secret_code" validate:"required"`
	}

	StatusResponse struct {
		UserID  string              `json:"user_id"`
		Active  bool                `json:"active"`
		Session *breakglass.Session `json:"session"`
	}

	PromotionCodeResponse struct {
		PromotionCode string `json:"promotion_code"`
	}
)

func (ar *ActivateRequest) Validate(validate *validator.Validate) error {
	ar.Reason = core.CleanString(ar.Reason)
	return validate.Struct(ar)
}
