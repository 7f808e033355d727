package user

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-breakglass/core"
)

var (
	// errors
	ErrNotFound   = core.NewNotFoundError("user")
	ErrUserExists = errors.New("a user with this username or email already exists")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		// LockUser reads the user and holds its row lock until exec's transaction ends.
		LockUser(ctx context.Context, id string, exec core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		SetUserRoles(ctx context.Context, id string, roles []string, exec ...core.DBExecutor) error
		// SetUserLastLogin and SetUserPassword write their own columns only: never the role set.
		SetUserLastLogin(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error
		SetUserPassword(ctx context.Context, id string, hash []byte, updatedAt time.Time, exec ...core.DBExecutor) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers); err != nil {
		if errors.Cause(err) == ErrUserExists {
			return core.NewValidationError(
				err,
				core.FieldError{Field: "username", Error: err.Error()},
				core.FieldError{Field: "email", Error: err.Error()},
			)
		}
		return errors.Wrap(err, "checking user uniqueness")
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := nowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     NormalizeRoles(nu.Roles),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// UpdateOrCreate saves usr as is: it is created when it has no ID yet.
func (svc *Service) UpdateOrCreate(ctx context.Context, usr User) (User, error) {
	now := nowFunc().UTC()
	usr.Roles = NormalizeRoles(usr.Roles)
	usr.UpdatedAt = now
	if usr.ID == "" {
		usr.CreatedAt = now
		return svc.repo.CreateUser(ctx, usr)
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	ordering = core.FilterOrderings(ordering, "name", "username", "email", "created_at", "last_login")
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string, exec ...core.DBExecutor) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id}, exec...)
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// LockForUpdate must run inside a transaction: concurrent role changes on the same user wait for it to end.
func (svc *Service) LockForUpdate(ctx context.Context, id string, exec core.DBExecutor) (User, error) {
	return svc.repo.LockUser(ctx, id, exec)
}

// SetRoles replaces the whole role set of a user.
func (svc *Service) SetRoles(ctx context.Context, id string, roles []string, exec ...core.DBExecutor) error {
	return svc.repo.SetUserRoles(ctx, id, NormalizeRoles(roles), exec...)
}

// SetLastLogin stamps the login time and returns the user as currently stored.
func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	if err := svc.repo.SetUserLastLogin(ctx, usr.ID, nowFunc().UTC()); err != nil {
		return User{}, err
	}
	return svc.GetByID(ctx, usr.ID)
}

func (svc *Service) SetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	if err := svc.repo.SetUserPassword(ctx, usr.ID, usr.PasswordHash, nowFunc().UTC()); err != nil {
		return User{}, err
	}
	return svc.GetByID(ctx, usr.ID)
}
