package echoapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-breakglass/core/user"
	"github.com/trezcool/masomo-breakglass/tests"
)

func TestUserAPI_login(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, app.usrRepo, "Jane", "jane", "jane@school.cd", "Secret123!", []string{user.RoleFaculty}, true)
	testutil.CreateUser(t, app.usrRepo, "Gone", "gone", "gone@school.cd", "Secret123!", []string{user.RoleFaculty}, false)

	tests := []httpTest{
		{
			name:     "no credentials",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"username": "this field is required", "password": "this field is required"}`),
		},
		{
			name:     "unknown user",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     []byte(`{"username": "nobody", "password": "Secret123!"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     []byte(`{"username": "jane", "password": "nope"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "deactivated account",
			method:   http.MethodPost,
			path:     "/v1/users/login",
			body:     []byte(`{"username": "gone", "password": "Secret123!"}`),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("success", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/users/login", "", []byte(`{"username": " JANE@school.cd ", "password": "Secret123!"}`))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp LoginResponse
		unmarchallObj(t, rec.Body.Bytes(), &resp)
		require.NotEmpty(t, resp.Token)

		rec = app.do(http.MethodGet, "/v1/users/me", resp.Token)
		require.Equal(t, http.StatusOK, rec.Code)
		var me user.User
		unmarchallObj(t, rec.Body.Bytes(), &me)
		assert.Equal(t, "jane", me.Username)
		assert.False(t, me.LastLogin.IsZero())
	})
}

func TestUserAPI_authed(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	adminToken := getToken(t, app, admin)
	f1Token := getToken(t, app, f1)

	tests := []httpTest{
		{
			name:     "me: no token",
			method:   http.MethodGet,
			path:     "/v1/users/me",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "me: bad token",
			method:   http.MethodGet,
			path:     "/v1/users/me",
			token:    "not.a.token",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "me",
			method:   http.MethodGet,
			path:     "/v1/users/me",
			token:    f1Token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, f1),
		},
		{
			name:     "roles: faculty",
			method:   http.MethodGet,
			path:     "/v1/users/roles",
			token:    f1Token,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "admin role required"}),
		},
		{
			name:     "roles: admin",
			method:   http.MethodGet,
			path:     "/v1/users/roles",
			token:    adminToken,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, user.Roles),
		},
		{
			name:     "refresh",
			method:   http.MethodPost,
			path:     "/v1/users/token-refresh",
			token:    f1Token,
			wantCode: http.StatusOK,
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("query", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/users?role=faculty&ordering=-username", adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var users []user.User
		unmarchallObj(t, rec.Body.Bytes(), &users)
		require.Len(t, users, 1)
		assert.Equal(t, f1.ID, users[0].ID)
	})

	t.Run("deleted user", func(t *testing.T) {
		ghost := app.createUser(t, "ghost", user.RoleAdmin)
		token := getToken(t, app, ghost)
		deleter, ok := app.usrRepo.(interface {
			DeleteUser(ctx context.Context, id string) error
		})
		require.True(t, ok)
		require.NoError(t, deleter.DeleteUser(context.Background(), ghost.ID))

		rec := app.do(http.MethodGet, "/v1/users/me", token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
