package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func copyUser(usr user.User) user.User {
	usr.Roles = append([]string{}, usr.Roles...)
	return usr
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	if err := repo.db.failure("CheckUsernameUniqueness"); err != nil {
		return err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, usr := range repo.db.users {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if (username != "" && usr.Username == username) || (email != "" && usr.Email == email) {
			return user.ErrUserExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if err := repo.db.failure("CreateUser"); err != nil {
		return user.User{}, err
	}
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr.ID = uuid.New().String()
	usr = copyUser(usr)
	repo.db.users[usr.ID] = usr
	return copyUser(usr), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	if err := repo.db.failure("QueryUsers"); err != nil {
		return nil, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if filter != nil {
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				if !(strings.Contains(strings.ToLower(usr.Name), search) ||
					strings.Contains(usr.Username, search) ||
					strings.Contains(usr.Email, search)) {
					continue
				}
			}
			if len(filter.Roles) > 0 && !hasAnyRole(usr, filter.Roles) {
				continue
			}
			if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
				continue
			}
		}
		users = append(users, copyUser(usr))
	}

	sort.Slice(users, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := userField(users[i], ord.Field), userField(users[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	if err := repo.db.failure("GetUser"); err != nil {
		return user.User{}, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.users[filter.ID]; ok {
			return copyUser(usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.UsernameOrEmail != "" {
		for _, usr := range repo.db.users {
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return copyUser(usr), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

// LockUser is a plain read: transactions are already serialized by the DB.
func (repo *userRepository) LockUser(ctx context.Context, id string, exec core.DBExecutor) (user.User, error) {
	if err := repo.db.failure("LockUser"); err != nil {
		return user.User{}, err
	}
	return repo.GetUser(ctx, user.GetFilter{ID: id}, exec)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if err := repo.db.failure("UpdateUser"); err != nil {
		return user.User{}, err
	}
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.users[usr.ID] = copyUser(usr)
	return copyUser(usr), nil
}

func (repo *userRepository) SetUserLastLogin(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error {
	if err := repo.db.failure("SetUserLastLogin"); err != nil {
		return err
	}
	return repo.patch(id, exec, func(usr *user.User) { usr.LastLogin = at })
}

func (repo *userRepository) SetUserPassword(ctx context.Context, id string, hash []byte, updatedAt time.Time, exec ...core.DBExecutor) error {
	if err := repo.db.failure("SetUserPassword"); err != nil {
		return err
	}
	return repo.patch(id, exec, func(usr *user.User) {
		usr.PasswordHash = append([]byte{}, hash...)
		usr.UpdatedAt = updatedAt
	})
}

// patch applies fn to the stored user, leaving the other fields as they are.
func (repo *userRepository) patch(id string, exec []core.DBExecutor, fn func(usr *user.User)) error {
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return user.ErrNotFound
	}
	fn(&usr)
	repo.db.users[id] = usr
	return nil
}

func (repo *userRepository) SetUserRoles(ctx context.Context, id string, roles []string, exec ...core.DBExecutor) error {
	if err := repo.db.failure("SetUserRoles"); err != nil {
		return err
	}
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return user.ErrNotFound
	}
	usr.Roles = append([]string{}, roles...)
	usr.UpdatedAt = nowFunc().UTC()
	repo.db.users[id] = usr
	return nil
}

// DeleteUser mimics the cascade of the user foreign keys: the user's session goes with them.
func (repo *userRepository) DeleteUser(ctx context.Context, id string) error {
	defer repo.db.autocommit(nil)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	delete(repo.db.users, id)
	delete(repo.db.sessions, id)
	for uid, sess := range repo.db.sessions {
		if sess.ActivatedBy == id {
			sess.ActivatedBy = ""
			repo.db.sessions[uid] = sess
		}
	}
	return nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

func hasAnyRole(usr user.User, roles []string) bool {
	for _, role := range roles {
		if usr.HasRole(role) {
			return true
		}
	}
	return false
}

func userField(usr user.User, field string) string {
	switch field {
	case "name":
		return usr.Name
	case "username":
		return usr.Username
	case "email":
		return usr.Email
	case "created_at":
		return usr.CreatedAt.Format(sortableTime)
	case "last_login":
		return usr.LastLogin.Format(sortableTime)
	}
	return ""
}
