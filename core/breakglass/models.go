package breakglass

import (
	"context"
	"time"

	"github.com/trezcool/masomo-breakglass/core"
)

// Audit actions
const (
	ActionActivated   = "BreakGlass Activated"
	ActionDeactivated = "BreakGlass Deactivated"
	ActionPromote     = "BreakGlass Promote"
	ActionReleased    = "BreakGlass Released"
	ActionExpired     = "BreakGlass Expired"
)

// ErrNoSession is returned by repositories when the user is not in break-glass mode.
var ErrNoSession = core.NewNotFoundError("break-glass session")

// Session is the break-glass state of one user. Its existence alone means the user is escalated.
type Session struct {
	UserID        string    `json:"user_id"`
	Reason        string    `json:"reason"`
	ActivatedAt   time.Time `json:"activated_at"`   // UTC
	ActivatedBy   string    `json:"activated_by"`   // empty once the activating user is gone
	OriginalRoles []string  `json:"original_roles"` // restored on deactivation

	SecretCodeHash      string `json:"-"`
	PromotionCodeHash   string `json:"-"`
	PromotionCodeSealed string `json:"-"`

	ExpiresAt *time.Time `json:"expires_at"` // nil: manual deactivation only
	UpdatedAt time.Time  `json:"updated_at"` // UTC
}

func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// Codes are handed out once, on activation. Only their hashes are kept.
type Codes struct {
	SecretCode    string `json:"secret_code"`
	PromotionCode string `json:"promotion_code"`
}

type Repository interface {
	// UpsertSession inserts sess or replaces the row of the same user.
	UpsertSession(ctx context.Context, sess Session, exec ...core.DBExecutor) (Session, error)
	GetSession(ctx context.Context, userID string, exec ...core.DBExecutor) (Session, error)
	DeleteSession(ctx context.Context, userID string, exec ...core.DBExecutor) error
	QuerySessions(ctx context.Context, exec ...core.DBExecutor) ([]Session, error)
	// QueryExpiredSessions returns the sessions with an expiry at or before now.
	QueryExpiredSessions(ctx context.Context, now time.Time, exec ...core.DBExecutor) ([]Session, error)
}
