package user

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-breakglass/core"
)

// Roles
const (
	RoleAdmin        = "admin"
	RoleAcademicHead = "academic_head"
	RoleFaculty      = "faculty"
)

var (
	AllRoles = []string{RoleAdmin, RoleAcademicHead, RoleFaculty}

	rolePriorities = map[string]int{
		RoleAdmin:        30,
		RoleAcademicHead: 20,
		RoleFaculty:      10,
	}

	Roles = []Role{
		{Name: "Faculty", Value: RoleFaculty},
		{Name: "Academic Head", Value: RoleAcademicHead},
		{Name: "Admin", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// NormalizeRoles returns a sorted copy of roles without duplicates or blanks.
func NormalizeRoles(roles []string) []string {
	set := make(map[string]struct{}, len(roles))
	norm := make([]string, 0, len(roles))
	for _, role := range roles {
		role = core.CleanString(role, true /* lower */)
		if role == "" {
			continue
		}
		if _, ok := set[role]; ok {
			continue
		}
		set[role] = struct{}{}
		norm = append(norm, role)
	}
	sort.Strings(norm)
	return norm
}

// RolesEqual compares two role sets regardless of order and duplicates.
func RolesEqual(a, b []string) bool {
	na, nb := NormalizeRoles(a), NormalizeRoles(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// HasRole reports whether role is in the set.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) HasRole(role string) bool {
	return HasRole(u.Roles, role)
}

func (u User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

func (u User) IsAcademicHead() bool {
	return u.HasRole(RoleAcademicHead)
}

func (u User) IsFaculty() bool {
	return u.HasRole(RoleFaculty)
}

// HasOnlyRoles reports whether the user's role set is exactly roles.
func (u User) HasOnlyRoles(roles ...string) bool {
	return RolesEqual(u.Roles, roles)
}

// Snapshot returns the display fields recorded in audit before/after states, with roles overridden.
func (u User) Snapshot(roles []string) map[string]interface{} {
	return map[string]interface{}{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"roles": NormalizeRoles(roles),
	}
}

type uniquenessChecker interface {
	CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc uniquenessChecker) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Roles = NormalizeRoles(nu.Roles)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// GetFilter selects a single User: by ID, else by username or email.
type GetFilter struct {
	ID              string
	UsernameOrEmail string
}

// QueryFilter applies AND on its set fields.
// Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
}

func (f *QueryFilter) Clean() {
	f.Search = core.CleanString(f.Search)
	f.Roles = NormalizeRoles(f.Roles)
}
