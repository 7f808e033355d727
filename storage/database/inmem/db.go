package inmemdb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

var errNoSQL = errors.New("in-memory database does not run SQL")

// DB is an in-memory store for tests and local runs.
// Transactions are serialized and roll back by restoring a snapshot of the users and sessions.
// Writes made without an executor take the transaction lock themselves.
type DB struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	users    map[string]user.User
	sessions map[string]breakglass.Session
	entries  []audit.Entry

	failures map[string]error
}

var (
	_ core.Transactor = (*DB)(nil)
	_ core.DBExecutor = (*executor)(nil)
)

func Open() *DB {
	return &DB{
		users:    make(map[string]user.User),
		sessions: make(map[string]breakglass.Session),
		failures: make(map[string]error),
	}
}

// InjectError makes every call to the repository method op fail with err. A nil err clears it.
func (db *DB) InjectError(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.failures, op)
		return
	}
	db.failures[op] = err
}

func (db *DB) failure(op string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.failures[op]
}

// Reset drops all the data and injected errors.
func (db *DB) Reset() {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = make(map[string]user.User)
	db.sessions = make(map[string]breakglass.Session)
	db.entries = nil
	db.failures = make(map[string]error)
}

func (db *DB) RunInTx(ctx context.Context, fn func(exec core.DBExecutor) error) (err error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	users, sessions := db.snapshot()
	defer func() {
		if p := recover(); p != nil {
			db.restore(users, sessions)
			panic(p)
		}
		if err != nil {
			db.restore(users, sessions)
		}
	}()

	if err = ctx.Err(); err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	return fn(&executor{})
}

func (db *DB) snapshot() (map[string]user.User, map[string]breakglass.Session) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	users := make(map[string]user.User, len(db.users))
	for id, usr := range db.users {
		usr.Roles = append([]string(nil), usr.Roles...)
		users[id] = usr
	}
	sessions := make(map[string]breakglass.Session, len(db.sessions))
	for id, sess := range db.sessions {
		sessions[id] = sess
	}
	return users, sessions
}

func (db *DB) restore(users map[string]user.User, sessions map[string]breakglass.Session) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = users
	db.sessions = sessions
}

// autocommit holds the transaction lock for a write made outside of any transaction.
func (db *DB) autocommit(exec []core.DBExecutor) func() {
	if len(exec) > 0 {
		return func() {}
	}
	db.txMu.Lock()
	return db.txMu.Unlock
}

// executor stands for the running transaction. It runs no SQL.
type executor struct{}

func (executor) DriverName() string { return "inmem" }

func (executor) Rebind(query string) string { return query }

func (executor) BindNamed(string, interface{}) (string, []interface{}, error) {
	return "", nil, errNoSQL
}

func (executor) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (executor) QueryxContext(context.Context, string, ...interface{}) (*sqlx.Rows, error) {
	return nil, errNoSQL
}

func (executor) QueryRowxContext(context.Context, string, ...interface{}) *sqlx.Row {
	return nil
}

func (executor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

func (executor) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}

func (executor) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}
