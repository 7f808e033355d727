package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
)

const auditColumns = `id, user_id, target_id, action, module, "before", "after", reason, status, metadata, created_at`

var auditOrderColumns = map[string]string{
	"created_at": "created_at",
	"action":     "action",
	"status":     "status",
}

type auditRow struct {
	ID        string             `db:"id"`
	UserID    null.String        `db:"user_id"`
	TargetID  null.String        `db:"target_id"`
	Action    string             `db:"action"`
	Module    string             `db:"module"`
	Before    types.NullJSONText `db:"before"`
	After     types.NullJSONText `db:"after"`
	Reason    string             `db:"reason"`
	Status    string             `db:"status"`
	Metadata  types.NullJSONText `db:"metadata"`
	CreatedAt time.Time          `db:"created_at"`
}

func jsonText(v interface{}, isNil bool) (types.NullJSONText, error) {
	if isNil {
		return types.NullJSONText{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return types.NullJSONText{}, err
	}
	return types.NullJSONText{JSONText: data, Valid: true}, nil
}

func toAuditRow(entry audit.Entry) (auditRow, error) {
	row := auditRow{
		ID:        entry.ID,
		UserID:    null.NewString(entry.UserID, entry.UserID != ""),
		TargetID:  null.NewString(entry.TargetID, entry.TargetID != ""),
		Action:    entry.Action,
		Module:    entry.Module,
		Reason:    entry.Reason,
		Status:    entry.Status,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	var err error
	if row.Before, err = jsonText(entry.Before, entry.Before == nil); err != nil {
		return row, errors.Wrap(err, "encoding audit before state")
	}
	if row.After, err = jsonText(entry.After, entry.After == nil); err != nil {
		return row, errors.Wrap(err, "encoding audit after state")
	}
	if row.Metadata, err = jsonText(entry.Metadata, entry.Metadata == nil); err != nil {
		return row, errors.Wrap(err, "encoding audit metadata")
	}
	return row, nil
}

func (r auditRow) entry() (audit.Entry, error) {
	entry := audit.Entry{
		ID:        r.ID,
		UserID:    r.UserID.String,
		TargetID:  r.TargetID.String,
		Action:    r.Action,
		Module:    r.Module,
		Reason:    r.Reason,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Before.Valid {
		if err := r.Before.Unmarshal(&entry.Before); err != nil {
			return entry, errors.Wrap(err, "decoding audit before state")
		}
	}
	if r.After.Valid {
		if err := r.After.Unmarshal(&entry.After); err != nil {
			return entry, errors.Wrap(err, "decoding audit after state")
		}
	}
	if r.Metadata.Valid {
		if err := r.Metadata.Unmarshal(&entry.Metadata); err != nil {
			return entry, errors.Wrap(err, "decoding audit metadata")
		}
	}
	return entry, nil
}

type auditRepository struct {
	exec core.DBExecutor
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *sqlx.DB) *auditRepository {
	return &auditRepository{exec: db}
}

func (repo auditRepository) CreateEntry(ctx context.Context, entry audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	entry.ID = ksuid.New().String()
	row, err := toAuditRow(entry)
	if err != nil {
		return audit.Entry{}, err
	}

	q := `INSERT INTO audit_log (` + auditColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = getExec(repo.exec, exec).ExecContext(
		ctx, q,
		row.ID, row.UserID, row.TargetID, row.Action, row.Module, row.Before, row.After,
		row.Reason, row.Status, row.Metadata, row.CreatedAt,
	)
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "inserting audit entry")
	}
	entry.CreatedAt = row.CreatedAt
	return entry, nil
}

func (repo auditRepository) QueryEntries(ctx context.Context, filter *audit.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]audit.Entry, error) {
	var where conditions
	if filter != nil {
		for _, fld := range []struct{ col, id string }{{"user_id", filter.UserID}, {"target_id", filter.TargetID}} {
			if fld.id == "" {
				continue
			}
			if _, err := uuid.Parse(fld.id); err != nil {
				return []audit.Entry{}, nil // no entry can match
			}
			where.add(fld.col+" = $%d", fld.id)
		}
		if filter.Action != "" {
			where.add("action = $%d", filter.Action)
		}
		if filter.Status != "" {
			where.add("status = $%d", filter.Status)
		}
		if filter.Module != "" {
			where.add("module = $%d", filter.Module)
		}
	}

	var rows []auditRow
	q := `SELECT ` + auditColumns + ` FROM audit_log` + where.String() + orderBy(ordering, auditOrderColumns, "created_at DESC, id DESC")
	if err := getExec(repo.exec, exec).SelectContext(ctx, &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying audit entries")
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entry, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
