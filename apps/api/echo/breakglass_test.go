package echoapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
	"github.com/trezcool/masomo-breakglass/tests"
)

func (app *testApp) activate(t *testing.T, token, userID string) breakglass.Codes {
	t.Helper()
	rec := app.do(http.MethodPost, "/v1/breakglass/"+userID+"/activate", token, []byte(`{"reason": "grading system outage"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var codes breakglass.Codes
	unmarchallObj(t, rec.Body.Bytes(), &codes)
	return codes
}

func TestBreakGlassAPI_activate(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	boss := app.createUser(t, "boss", user.RoleAcademicHead, user.RoleAdmin)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	ah2 := app.createUser(t, "ah2", user.RoleAcademicHead, user.RoleFaculty)

	reason := []byte(`{"reason": "grading system outage"}`)
	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + f1.ID + "/activate",
			body:     reason,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "unknown user",
			method:   http.MethodPost,
			path:     "/v1/breakglass/lol/activate",
			body:     reason,
			token:    getToken(t, app, ah),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "user not found"}),
		},
		{
			name:     "by admin",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + f1.ID + "/activate",
			body:     reason,
			token:    getToken(t, app, admin),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "academic head role required"}),
		},
		{
			name:     "by faculty",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + f1.ID + "/activate",
			body:     reason,
			token:    getToken(t, app, f1),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "target not managed",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + ah2.ID + "/activate",
			body:     reason,
			token:    getToken(t, app, ah),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "target not only faculty",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + ah2.ID + "/activate",
			body:     reason,
			token:    getToken(t, app, boss),
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "only a faculty member can be escalated"}),
		},
		{
			name:     "blank reason",
			method:   http.MethodPost,
			path:     "/v1/breakglass/" + f1.ID + "/activate",
			body:     []byte(`{"reason": "   "}`),
			token:    getToken(t, app, ah),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"reason": "this field is required"}`),
		},
	}
	runHTTPTests(t, app, tests)

	// rejected activations leave no trace
	entries, err := app.auditSvc.Query(context.Background(), &audit.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, []string{user.RoleFaculty}, testutil.Roles(t, app.usrRepo, f1.ID))

	t.Run("success", func(t *testing.T) {
		codes := app.activate(t, getToken(t, app, ah), f1.ID)
		assert.Len(t, codes.SecretCode, 32)
		assert.Len(t, codes.PromotionCode, 32)
		assert.NotEqual(t, codes.SecretCode, codes.PromotionCode)
		assert.Equal(t, []string{user.RoleAdmin}, testutil.Roles(t, app.usrRepo, f1.ID))

		// the escalated user is read as an admin on the next request
		rec := app.do(http.MethodGet, "/v1/users/roles", getToken(t, app, f1))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("again", func(t *testing.T) {
		first, err := app.bgSvc.GetSession(context.Background(), f1.ID)
		require.NoError(t, err)
		codes := app.activate(t, getToken(t, app, ah), f1.ID)
		assert.NotEmpty(t, codes.PromotionCode)

		sess, err := app.bgSvc.GetSession(context.Background(), f1.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{user.RoleFaculty}, sess.OriginalRoles)
		assert.NotEqual(t, first.PromotionCodeHash, sess.PromotionCodeHash)
	})
}

func TestBreakGlassAPI_scenario(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	ah2 := app.createUser(t, "ah2", user.RoleAcademicHead)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	ahToken, f1Token := getToken(t, app, ah), getToken(t, app, f1)

	codes := app.activate(t, ahToken, f1.ID)

	t.Run("status", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/breakglass/"+f1.ID, ahToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp StatusResponse
		unmarchallObj(t, rec.Body.Bytes(), &resp)
		assert.True(t, resp.Active)
		require.NotNil(t, resp.Session)
		assert.Equal(t, "grading system outage", resp.Session.Reason)
		assert.Equal(t, ah.ID, resp.Session.ActivatedBy)
		assert.False(t, strings.Contains(rec.Body.String(), "hash"))
		assert.False(t, strings.Contains(rec.Body.String(), codes.PromotionCode))
	})

	t.Run("list", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/breakglass", ahToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(http.MethodGet, "/v1/breakglass", getToken(t, app, admin))
		require.Equal(t, http.StatusOK, rec.Code)
		var sessions []breakglass.Session
		unmarchallObj(t, rec.Body.Bytes(), &sessions)
		require.Len(t, sessions, 1)
		assert.Equal(t, f1.ID, sessions[0].UserID)
	})

	t.Run("reveal promotion code", func(t *testing.T) {
		path := "/v1/breakglass/" + f1.ID + "/promotion-code"
		runHTTPTests(t, app, []httpTest{
			{name: "escalated user", method: http.MethodGet, path: path, token: f1Token, wantCode: http.StatusForbidden},
			{name: "other academic head", method: http.MethodGet, path: path, token: getToken(t, app, ah2), wantCode: http.StatusForbidden},
			{
				name:     "activating academic head",
				method:   http.MethodGet,
				path:     path,
				token:    ahToken,
				wantCode: http.StatusOK,
				wantData: marchallObj(t, PromotionCodeResponse{PromotionCode: codes.PromotionCode}),
			},
			{
				name:     "admin",
				method:   http.MethodGet,
				path:     path,
				token:    getToken(t, app, admin),
				wantCode: http.StatusOK,
				wantData: marchallObj(t, PromotionCodeResponse{PromotionCode: codes.PromotionCode}),
			},
		})
	})

	t.Run("promote", func(t *testing.T) {
		runHTTPTests(t, app, []httpTest{
			{
				name:     "no code",
				method:   http.MethodPost,
				path:     "/v1/breakglass/promote",
				body:     []byte(`{}`),
				token:    f1Token,
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"promotion_code": "this field is required"}`),
			},
			{
				name:     "secret code is not the promotion code",
				method:   http.MethodPost,
				path:     "/v1/breakglass/promote",
				body:     marchallObj(t, PromoteRequest{PromotionCode: codes.SecretCode}),
				token:    f1Token,
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "invalid promotion code"}),
			},
			{
				name:     "not escalated",
				method:   http.MethodPost,
				path:     "/v1/breakglass/promote",
				body:     marchallObj(t, PromoteRequest{PromotionCode: codes.PromotionCode}),
				token:    ahToken,
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "invalid promotion code"}),
			},
			{
				name:     "success",
				method:   http.MethodPost,
				path:     "/v1/breakglass/promote",
				body:     marchallObj(t, PromoteRequest{PromotionCode: codes.PromotionCode}),
				token:    f1Token,
				wantCode: http.StatusNoContent,
			},
			{
				name:     "one shot",
				method:   http.MethodPost,
				path:     "/v1/breakglass/promote",
				body:     marchallObj(t, PromoteRequest{PromotionCode: codes.PromotionCode}),
				token:    f1Token,
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, httpErr{Error: "invalid promotion code"}),
			},
		})
		assert.Equal(t, []string{user.RoleAdmin}, testutil.Roles(t, app.usrRepo, f1.ID))

		rec := app.do(http.MethodGet, "/v1/breakglass/"+f1.ID, getToken(t, app, admin))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"user_id": "`+f1.ID+`", "active": false, "session": null}`, rec.Body.String())
	})

	entries, err := app.auditSvc.Query(context.Background(), &audit.QueryFilter{TargetID: f1.ID}, nil)
	require.NoError(t, err)
	var actions []string
	for _, entry := range entries {
		actions = append(actions, entry.Action+"/"+entry.Status)
	}
	assert.ElementsMatch(t, []string{
		breakglass.ActionActivated + "/" + audit.StatusSuccess,
		breakglass.ActionPromote + "/" + audit.StatusFailed,
		breakglass.ActionPromote + "/" + audit.StatusSuccess,
		breakglass.ActionPromote + "/" + audit.StatusFailed,
	}, actions)
}

func TestBreakGlassAPI_deactivate(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	f2 := app.createUser(t, "f2", user.RoleFaculty)
	ahToken := getToken(t, app, ah)

	app.activate(t, ahToken, f1.ID)
	app.activate(t, ahToken, f2.ID)

	path := func(usr user.User) string { return "/v1/breakglass/" + usr.ID + "/deactivate" }
	runHTTPTests(t, app, []httpTest{
		{name: "self", method: http.MethodPost, path: path(f1), token: getToken(t, app, f1), wantCode: http.StatusForbidden},
		{name: "other escalated user", method: http.MethodPost, path: path(f1), token: getToken(t, app, f2), wantCode: http.StatusNoContent},
		{name: "again", method: http.MethodPost, path: path(f1), token: ahToken, wantCode: http.StatusNoContent},
		{name: "admin", method: http.MethodPost, path: path(f2), token: getToken(t, app, admin), wantCode: http.StatusNoContent},
	})

	assert.Equal(t, []string{user.RoleFaculty}, testutil.Roles(t, app.usrRepo, f1.ID))
	assert.Equal(t, []string{user.RoleFaculty}, testutil.Roles(t, app.usrRepo, f2.ID))

	entries, err := app.auditSvc.Query(context.Background(), &audit.QueryFilter{Action: breakglass.ActionDeactivated}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, []string{user.RoleAdmin}, entry.Before["roles"])
		assert.Equal(t, []string{user.RoleFaculty}, entry.After["roles"])
	}
}

func TestBreakGlassAPI_release(t *testing.T) {
	app := setup(t)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	f1Token := getToken(t, app, f1)
	codes := app.activate(t, getToken(t, app, ah), f1.ID)

	runHTTPTests(t, app, []httpTest{
		{
			name:     "promotion code is not the secret code",
			method:   http.MethodPost,
			path:     "/v1/breakglass/release",
			body:     marchallObj(t, ReleaseRequest{SecretCode: codes.PromotionCode}),
			token:    f1Token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid secret code"}),
		},
		{
			name:     "success",
			method:   http.MethodPost,
			path:     "/v1/breakglass/release",
			body:     marchallObj(t, ReleaseRequest{SecretCode: codes.SecretCode}),
			token:    f1Token,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "again",
			method:   http.MethodPost,
			path:     "/v1/breakglass/release",
			body:     marchallObj(t, ReleaseRequest{SecretCode: codes.SecretCode}),
			token:    f1Token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid secret code"}),
		},
	})
	assert.Equal(t, []string{user.RoleFaculty}, testutil.Roles(t, app.usrRepo, f1.ID))
}

func TestBreakGlassAPI_serverError(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin", user.RoleAdmin)
	app.db.InjectError("QuerySessions", errors.New("connection reset"))

	runHTTPTests(t, app, []httpTest{
		{
			name:     "list",
			method:   http.MethodGet,
			path:     "/v1/breakglass",
			token:    getToken(t, app, admin),
			wantCode: http.StatusInternalServerError,
			wantData: marchallObj(t, httpErr{Error: http.StatusText(http.StatusInternalServerError)}),
		},
	})
}

func TestMetricsEndpoint(t *testing.T) {
	app := setup(t)
	ah := app.createUser(t, "ah", user.RoleAcademicHead)
	boss := app.createUser(t, "boss", user.RoleAcademicHead, user.RoleAdmin)
	f1 := app.createUser(t, "f1", user.RoleFaculty)
	ahToken := getToken(t, app, ah)
	app.activate(t, ahToken, f1.ID)
	require.Equal(t, http.StatusNotFound, app.do(http.MethodPost, "/v1/breakglass/lol/activate", ahToken, []byte(`{"reason": "x"}`)).Code)
	require.Equal(t, http.StatusConflict, app.do(http.MethodPost, "/v1/breakglass/"+ah.ID+"/activate", getToken(t, app, boss), []byte(`{"reason": "x"}`)).Code)

	rec := app.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `masomo_breakglass_transitions_total{action="BreakGlass Activated",status="SUCCESS"} 1`)
	assert.Contains(t, body, `masomo_http_requests_total{method="POST",path="/v1/breakglass/:id/activate",status="201"} 1`)
	assert.Contains(t, body, `masomo_http_requests_total{method="POST",path="/v1/breakglass/:id/activate",status="404"} 1`)
	assert.Contains(t, body, `masomo_http_requests_total{method="POST",path="/v1/breakglass/:id/activate",status="409"} 1`)
	assert.NotContains(t, body, `masomo_http_requests_total{method="POST",path="/v1/breakglass/:id/activate",status="500"}`)
}

func TestServer_signalShutdown(t *testing.T) {
	app := setup(t)
	app.signalShutdown()
	app.signalShutdown() // does not block

	select {
	case <-app.ShutdownSignal():
	case <-time.After(time.Second):
		t.Fatal("no shutdown signal")
	}
}
