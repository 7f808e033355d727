package audit

import "time"

const ModuleSecurity = "Security"

// Statuses
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Snapshot is a free-form JSON object describing the subject before or after an action.
type Snapshot map[string]interface{}

// Entry is an append-only audit record. UserID is the actor: it is empty for system actions.
type Entry struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	TargetID  string                 `json:"target_id"`
	Action    string                 `json:"action"`
	Module    string                 `json:"module"`
	Before    Snapshot               `json:"before"`
	After     Snapshot               `json:"after"`
	Reason    string                 `json:"reason"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}

// QueryFilter applies AND on its set fields.
type QueryFilter struct {
	Action   string `query:"action"`
	UserID   string `query:"user_id"`
	TargetID string `query:"target_id"`
	Status   string `query:"status"`
	Module   string `query:"module"`
}
