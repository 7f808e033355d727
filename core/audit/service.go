package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/masomo-breakglass/core"
)

var nowFunc = time.Now // mockable

type (
	Repository interface {
		CreateEntry(ctx context.Context, entry Entry, exec ...core.DBExecutor) (Entry, error)
		QueryEntries(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Entry, error)
	}

	// Counter counts audit entries that only reached the fallback channel.
	Counter interface {
		Inc()
	}

	Service struct {
		repo     Repository
		logger   core.Logger
		fallback Counter
	}
)

func NewService(repo Repository, logger core.Logger, fallback Counter) *Service {
	return &Service{repo: repo, logger: logger, fallback: fallback}
}

// LogAction appends entry to the audit trail.
// It never fails its caller: a failed write is reported to the logger with the whole entry and counted.
func (svc *Service) LogAction(ctx context.Context, entry Entry) {
	if entry.Module == "" {
		entry.Module = ModuleSecurity
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowFunc().UTC()
	}

	if _, err := svc.repo.CreateEntry(ctx, entry); err != nil {
		svc.fallback.Inc()
		svc.logger.Error(
			fmt.Sprintf("audit entry not persisted: %s", entry.Action),
			err,
			map[string]interface{}{
				"user_id":    entry.UserID,
				"target_id":  entry.TargetID,
				"action":     entry.Action,
				"module":     entry.Module,
				"before":     entry.Before,
				"after":      entry.After,
				"reason":     entry.Reason,
				"status":     entry.Status,
				"metadata":   entry.Metadata,
				"created_at": entry.CreatedAt,
			},
		)
	}
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error) {
	ordering = core.FilterOrderings(ordering, "created_at", "action", "status")
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	return svc.repo.QueryEntries(ctx, filter, ordering)
}
