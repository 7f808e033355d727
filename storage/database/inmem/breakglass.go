package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

var nowFunc = time.Now // mockable

type sessionRepository struct {
	db *DB
}

var _ breakglass.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func copySession(sess breakglass.Session) breakglass.Session {
	sess.OriginalRoles = append([]string{}, sess.OriginalRoles...)
	if sess.ExpiresAt != nil {
		expiresAt := *sess.ExpiresAt
		sess.ExpiresAt = &expiresAt
	}
	return sess
}

func (repo *sessionRepository) UpsertSession(ctx context.Context, sess breakglass.Session, exec ...core.DBExecutor) (breakglass.Session, error) {
	if err := repo.db.failure("UpsertSession"); err != nil {
		return breakglass.Session{}, err
	}
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[sess.UserID]; !ok {
		return breakglass.Session{}, user.ErrNotFound
	}
	sess = copySession(sess)
	repo.db.sessions[sess.UserID] = sess
	return copySession(sess), nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, userID string, exec ...core.DBExecutor) (breakglass.Session, error) {
	if err := repo.db.failure("GetSession"); err != nil {
		return breakglass.Session{}, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if sess, ok := repo.db.sessions[userID]; ok {
		return copySession(sess), nil
	}
	return breakglass.Session{}, breakglass.ErrNoSession
}

func (repo *sessionRepository) DeleteSession(ctx context.Context, userID string, exec ...core.DBExecutor) error {
	if err := repo.db.failure("DeleteSession"); err != nil {
		return err
	}
	defer repo.db.autocommit(exec)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	delete(repo.db.sessions, userID)
	return nil
}

func (repo *sessionRepository) QuerySessions(ctx context.Context, exec ...core.DBExecutor) ([]breakglass.Session, error) {
	return repo.query(func(breakglass.Session) bool { return true })
}

func (repo *sessionRepository) QueryExpiredSessions(ctx context.Context, now time.Time, exec ...core.DBExecutor) ([]breakglass.Session, error) {
	return repo.query(func(sess breakglass.Session) bool { return sess.Expired(now) })
}

func (repo *sessionRepository) query(keep func(breakglass.Session) bool) ([]breakglass.Session, error) {
	if err := repo.db.failure("QuerySessions"); err != nil {
		return nil, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	sessions := make([]breakglass.Session, 0, len(repo.db.sessions))
	for _, sess := range repo.db.sessions {
		if keep(sess) {
			sessions = append(sessions, copySession(sess))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ActivatedAt.Before(sessions[j].ActivatedAt)
	})
	return sessions, nil
}
