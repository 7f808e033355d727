// Package authz answers "can this caller do X". Its checks only read the caller's role set,
// apart from RequireBreakGlass which also reads the caller's own break-glass state once.
package authz

import (
	"context"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

var (
	errAdminRequired        = core.NewForbiddenError("admin role required")
	errAcademicHeadRequired = core.NewForbiddenError("academic head role required")
	errBreakGlassRequired   = core.NewForbiddenError("break-glass access required")
)

// Caller is the authenticated identity and its current role set.
type Caller struct {
	ID    string
	Roles []string
}

func CallerFromUser(usr user.User) *Caller {
	return &Caller{ID: usr.ID, Roles: user.NormalizeRoles(usr.Roles)}
}

func (c *Caller) HasRole(role string) bool {
	return c != nil && user.HasRole(c.Roles, role)
}

// ActiveChecker is satisfied by *breakglass.Service.
type ActiveChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

func RequireAdmin(caller *Caller) error {
	if caller == nil {
		return core.NewUnauthenticatedError()
	}
	if !caller.HasRole(user.RoleAdmin) {
		return errAdminRequired
	}
	return nil
}

func RequireAcademicHead(caller *Caller) error {
	if caller == nil {
		return core.NewUnauthenticatedError()
	}
	if !caller.HasRole(user.RoleAcademicHead) {
		return errAcademicHeadRequired
	}
	return nil
}

// RequireBreakGlass lets admins through, and academic heads only while they are themselves in break-glass mode.
func RequireBreakGlass(ctx context.Context, caller *Caller, checker ActiveChecker) error {
	if caller == nil {
		return core.NewUnauthenticatedError()
	}
	if caller.HasRole(user.RoleAdmin) {
		return nil
	}
	if caller.HasRole(user.RoleAcademicHead) {
		active, err := checker.IsActive(ctx, caller.ID)
		if err != nil {
			return err
		}
		if active {
			return nil
		}
	}
	return errBreakGlassRequired
}

// CanManageUser: admins manage anyone, academic heads manage faculty members only.
func CanManageUser(actor *Caller, targetRoles []string) bool {
	switch {
	case actor == nil:
		return false
	case actor.HasRole(user.RoleAdmin):
		return true
	case actor.HasRole(user.RoleAcademicHead):
		return user.HasRole(targetRoles, user.RoleFaculty) &&
			!user.HasRole(targetRoles, user.RoleAdmin) &&
			!user.HasRole(targetRoles, user.RoleAcademicHead)
	}
	return false
}

// CanDeactivate judges an escalation by the roles it will restore: the target is an admin until then.
// Nobody ends their own escalation through this path.
func CanDeactivate(actor *Caller, target user.User, sess *breakglass.Session) bool {
	if actor == nil || actor.ID == target.ID {
		return false
	}
	roles := target.Roles
	if sess != nil {
		roles = sess.OriginalRoles
	}
	return CanManageUser(actor, roles)
}
