package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-breakglass/core"
)

type repoStub struct {
	err      error
	entries  []Entry
	ordering []core.DBOrdering
}

func (r *repoStub) CreateEntry(_ context.Context, entry Entry, _ ...core.DBExecutor) (Entry, error) {
	if r.err != nil {
		return Entry{}, r.err
	}
	entry.ID = "id"
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *repoStub) QueryEntries(_ context.Context, _ *QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]Entry, error) {
	r.ordering = ordering
	return r.entries, nil
}

type counterStub struct{ n int }

func (c *counterStub) Inc() { c.n++ }

type loggedMsg struct {
	msg  string
	args []interface{}
}

type loggerStub struct{ errors []loggedMsg }

func (l *loggerStub) Debug(string, ...interface{}) {}
func (l *loggerStub) Info(string, ...interface{})  {}
func (l *loggerStub) Warn(string, ...interface{})  {}
func (l *loggerStub) Fatal(string, ...interface{}) {}
func (l *loggerStub) Error(msg string, args ...interface{}) {
	l.errors = append(l.errors, loggedMsg{msg: msg, args: args})
}

func TestService_LogAction(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	t.Run("defaults", func(t *testing.T) {
		repo, logger, cnt := new(repoStub), new(loggerStub), new(counterStub)
		svc := NewService(repo, logger, cnt)

		svc.LogAction(context.Background(), Entry{UserID: "ah1", TargetID: "f1", Action: "BreakGlass Activated"})

		require.Len(t, repo.entries, 1)
		got := repo.entries[0]
		assert.Equal(t, ModuleSecurity, got.Module)
		assert.Equal(t, StatusSuccess, got.Status)
		assert.Equal(t, now, got.CreatedAt)
		assert.Empty(t, logger.errors)
		assert.Zero(t, cnt.n)
	})

	t.Run("explicit status kept", func(t *testing.T) {
		repo := new(repoStub)
		svc := NewService(repo, new(loggerStub), new(counterStub))

		svc.LogAction(context.Background(), Entry{Action: "BreakGlass Promote", Status: StatusFailed})

		require.Len(t, repo.entries, 1)
		assert.Equal(t, StatusFailed, repo.entries[0].Status)
	})

	t.Run("write failure goes to fallback", func(t *testing.T) {
		repo := &repoStub{err: errors.New("db down")}
		logger, cnt := new(loggerStub), new(counterStub)
		svc := NewService(repo, logger, cnt)

		svc.LogAction(context.Background(), Entry{
			UserID: "ah1", TargetID: "f1", Action: "BreakGlass Deactivated",
			Before: Snapshot{"roles": []string{"admin"}},
			After:  Snapshot{"roles": []string{"faculty"}},
		})

		assert.Equal(t, 1, cnt.n)
		require.Len(t, logger.errors, 1)
		assert.Contains(t, logger.errors[0].msg, "BreakGlass Deactivated")
		require.Len(t, logger.errors[0].args, 2)
		assert.EqualError(t, logger.errors[0].args[0].(error), "db down")
		extras := logger.errors[0].args[1].(map[string]interface{})
		assert.Equal(t, "f1", extras["target_id"])
		assert.Equal(t, Snapshot{"roles": []string{"faculty"}}, extras["after"])
	})
}

func TestService_Query(t *testing.T) {
	repo := new(repoStub)
	svc := NewService(repo, new(loggerStub), new(counterStub))

	_, err := svc.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []core.DBOrdering{{Field: "created_at"}}, repo.ordering)

	_, err = svc.Query(context.Background(), nil, []core.DBOrdering{{Field: "password_hash"}, {Field: "action", Ascending: true}})
	require.NoError(t, err)
	assert.Equal(t, []core.DBOrdering{{Field: "action", Ascending: true}}, repo.ordering)
}
