package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

const sessionColumns = `user_id, reason, activated_at, activated_by, original_roles,
	secret_code_hash, promotion_code_hash, promotion_code_sealed, expires_at, updated_at`

type sessionRow struct {
	UserID              string         `db:"user_id"`
	Reason              string         `db:"reason"`
	ActivatedAt         time.Time      `db:"activated_at"`
	ActivatedBy         null.String    `db:"activated_by"`
	OriginalRoles       pq.StringArray `db:"original_roles"`
	SecretCodeHash      string         `db:"secret_code_hash"`
	PromotionCodeHash   string         `db:"promotion_code_hash"`
	PromotionCodeSealed string         `db:"promotion_code_sealed"`
	ExpiresAt           null.Time      `db:"expires_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toSessionRow(sess breakglass.Session) sessionRow {
	row := sessionRow{
		UserID:              sess.UserID,
		Reason:              sess.Reason,
		ActivatedAt:         sess.ActivatedAt.UTC(),
		ActivatedBy:         null.NewString(sess.ActivatedBy, sess.ActivatedBy != ""),
		OriginalRoles:       pq.StringArray(user.NormalizeRoles(sess.OriginalRoles)),
		SecretCodeHash:      sess.SecretCodeHash,
		PromotionCodeHash:   sess.PromotionCodeHash,
		PromotionCodeSealed: sess.PromotionCodeSealed,
		UpdatedAt:           sess.UpdatedAt.UTC(),
	}
	if sess.ExpiresAt != nil {
		row.ExpiresAt = null.TimeFrom(sess.ExpiresAt.UTC())
	}
	return row
}

func (r sessionRow) session() breakglass.Session {
	sess := breakglass.Session{
		UserID:              r.UserID,
		Reason:              r.Reason,
		ActivatedAt:         r.ActivatedAt.UTC(),
		ActivatedBy:         r.ActivatedBy.String,
		OriginalRoles:       []string(r.OriginalRoles),
		SecretCodeHash:      r.SecretCodeHash,
		PromotionCodeHash:   r.PromotionCodeHash,
		PromotionCodeSealed: r.PromotionCodeSealed,
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time.UTC()
		sess.ExpiresAt = &expiresAt
	}
	return sess
}

type sessionRepository struct {
	exec core.DBExecutor
}

var _ breakglass.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{exec: db}
}

func (repo sessionRepository) UpsertSession(ctx context.Context, sess breakglass.Session, exec ...core.DBExecutor) (breakglass.Session, error) {
	row := toSessionRow(sess)
	q := `INSERT INTO break_glass_session (` + sessionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (user_id) DO UPDATE SET
		reason = EXCLUDED.reason,
		activated_at = EXCLUDED.activated_at,
		activated_by = EXCLUDED.activated_by,
		original_roles = EXCLUDED.original_roles,
		secret_code_hash = EXCLUDED.secret_code_hash,
		promotion_code_hash = EXCLUDED.promotion_code_hash,
		promotion_code_sealed = EXCLUDED.promotion_code_sealed,
		expires_at = EXCLUDED.expires_at,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + sessionColumns

	var saved sessionRow
	err := getExec(repo.exec, exec).GetContext(
		ctx, &saved, q,
		row.UserID, row.Reason, row.ActivatedAt, row.ActivatedBy, row.OriginalRoles,
		row.SecretCodeHash, row.PromotionCodeHash, row.PromotionCodeSealed, row.ExpiresAt, row.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return breakglass.Session{}, user.ErrNotFound
		}
		return breakglass.Session{}, errors.Wrap(err, "upserting break-glass session")
	}
	return saved.session(), nil
}

func (repo sessionRepository) GetSession(ctx context.Context, userID string, exec ...core.DBExecutor) (breakglass.Session, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return breakglass.Session{}, breakglass.ErrNoSession
	}
	var row sessionRow
	q := `SELECT ` + sessionColumns + ` FROM break_glass_session WHERE user_id = $1`
	if err := getExec(repo.exec, exec).GetContext(ctx, &row, q, userID); err != nil {
		if err == sql.ErrNoRows {
			return breakglass.Session{}, breakglass.ErrNoSession
		}
		return breakglass.Session{}, errors.Wrap(err, "finding break-glass session")
	}
	return row.session(), nil
}

func (repo sessionRepository) DeleteSession(ctx context.Context, userID string, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(userID); err != nil {
		return nil
	}
	_, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM break_glass_session WHERE user_id = $1`, userID)
	return errors.Wrap(err, "deleting break-glass session")
}

func (repo sessionRepository) QuerySessions(ctx context.Context, exec ...core.DBExecutor) ([]breakglass.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM break_glass_session ORDER BY activated_at ASC`
	return repo.query(ctx, getExec(repo.exec, exec), q)
}

func (repo sessionRepository) QueryExpiredSessions(ctx context.Context, now time.Time, exec ...core.DBExecutor) ([]breakglass.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM break_glass_session
	WHERE expires_at IS NOT NULL AND expires_at <= $1
	ORDER BY activated_at ASC`
	return repo.query(ctx, getExec(repo.exec, exec), q, now.UTC())
}

func (repo sessionRepository) query(ctx context.Context, exec core.DBExecutor, q string, args ...interface{}) ([]breakglass.Session, error) {
	var rows []sessionRow
	if err := exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying break-glass sessions")
	}
	sessions := make([]breakglass.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.session())
	}
	return sessions, nil
}
