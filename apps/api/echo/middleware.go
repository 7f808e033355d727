package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-breakglass/core/authz"
)

// identifyMiddleware turns the verified token into the request's authz.Caller, with its current roles.
func identifyMiddleware(auth *authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := auth.contextUser(ctx)
			if err != nil {
				return err
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			ctx.Set(contextCallerKey, authz.CallerFromUser(usr))
			return next(ctx)
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := authz.RequireAdmin(contextCaller(ctx)); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func academicHeadMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := authz.RequireAcademicHead(contextCaller(ctx)); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func breakGlassMiddleware(checker authz.ActiveChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := authz.RequireBreakGlass(ctx.Request().Context(), contextCaller(ctx), checker); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
