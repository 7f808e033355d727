package inmemdb

import (
	"context"
	"sort"

	"github.com/segmentio/ksuid"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
)

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) *auditRepository {
	return &auditRepository{db: db}
}

// CreateEntry appends entry. Entries survive any rollback: they are not part of the transaction snapshot.
func (repo *auditRepository) CreateEntry(ctx context.Context, entry audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	if err := repo.db.failure("CreateEntry"); err != nil {
		return audit.Entry{}, err
	}
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	entry.ID = ksuid.New().String()
	repo.db.entries = append(repo.db.entries, entry)
	return entry, nil
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter *audit.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]audit.Entry, error) {
	if err := repo.db.failure("QueryEntries"); err != nil {
		return nil, err
	}
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]audit.Entry, 0, len(repo.db.entries))
	for _, e := range repo.db.entries {
		if filter != nil {
			if (filter.Action != "" && e.Action != filter.Action) ||
				(filter.UserID != "" && e.UserID != filter.UserID) ||
				(filter.TargetID != "" && e.TargetID != filter.TargetID) ||
				(filter.Status != "" && e.Status != filter.Status) ||
				(filter.Module != "" && e.Module != filter.Module) {
				continue
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := entryField(entries[i], ord.Field), entryField(entries[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return false
	})
	return entries, nil
}

func entryField(e audit.Entry, field string) string {
	switch field {
	case "created_at":
		return e.CreatedAt.UTC().Format(sortableTime)
	case "action":
		return e.Action
	case "status":
		return e.Status
	}
	return ""
}
