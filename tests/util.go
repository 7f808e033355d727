package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/user"
	"github.com/trezcool/masomo-breakglass/storage/database"
)

// PrepareDB opens the configured database, migrates it and empties its tables.
// The test is skipped when no database answers.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := database.OpenContext(ctx, core.NewConfig())
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.Exec(`TRUNCATE audit_log, break_glass_session, "user" CASCADE`); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     user.NormalizeRoles(roles),
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// Roles returns the current role set of the user with the given id.
func Roles(t *testing.T, repo user.Repository, id string) []string {
	t.Helper()

	usr, err := repo.GetUser(context.Background(), user.GetFilter{ID: id})
	if err != nil {
		t.Fatalf("Roles() failed: %v", err)
	}
	return user.NormalizeRoles(usr.Roles)
}

// Logger records what is logged, by level. It is safe for concurrent use.
type Logger struct {
	mu                                   sync.Mutex
	Debugs, Infos, Warns, Errors, Fatals []string
}

func (l *Logger) record(msgs *[]string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*msgs = append(*msgs, msg)
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.record(&l.Debugs, msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.record(&l.Infos, msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.record(&l.Warns, msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.record(&l.Errors, msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) { l.record(&l.Fatals, msg) }
