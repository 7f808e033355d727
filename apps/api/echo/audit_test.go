package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
)

func TestAuditAPI_query(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	f2 := app.createUser(t, "f2", user.RoleFaculty)
	ahToken := getToken(t, app, ah)

	app.activate(t, ahToken, f1.ID)
	app.activate(t, ahToken, f2.ID)
	require.Equal(t, http.StatusNoContent, app.do(http.MethodPost, "/v1/breakglass/"+f1.ID+"/deactivate", ahToken).Code)

	runHTTPTests(t, app, []httpTest{
		{name: "no token", method: http.MethodGet, path: "/v1/audit-logs", wantCode: http.StatusUnauthorized},
		{
			name:     "academic head without own session",
			method:   http.MethodGet,
			path:     "/v1/audit-logs",
			token:    ahToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "break-glass access required"}),
		},
	})

	t.Run("admin", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/audit-logs?target_id="+f1.ID+"&ordering=created_at", getToken(t, app, admin))
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []audit.Entry
		unmarchallObj(t, rec.Body.Bytes(), &entries)
		require.Len(t, entries, 2)
		assert.Equal(t, breakglass.ActionActivated, entries[0].Action)
		assert.Equal(t, breakglass.ActionDeactivated, entries[1].Action)
		assert.Equal(t, ah.ID, entries[1].UserID)
	})

	t.Run("escalated faculty is an admin", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/audit-logs?action=BreakGlass%20Activated", getToken(t, app, f2))
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []audit.Entry
		unmarchallObj(t, rec.Body.Bytes(), &entries)
		assert.Len(t, entries, 2)
	})

	t.Run("academic head in break-glass mode", func(t *testing.T) {
		now := time.Now().UTC()
		_, err := app.bgRepo.UpsertSession(context.Background(), breakglass.Session{
			UserID:        ah.ID,
			Reason:        "exam night",
			ActivatedAt:   now,
			ActivatedBy:   admin.ID,
			OriginalRoles: []string{user.RoleAcademicHead},
			UpdatedAt:     now,
		})
		require.NoError(t, err)

		rec := app.do(http.MethodGet, "/v1/audit-logs?status=FAILED", ahToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}
