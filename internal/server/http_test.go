package server_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultpad/internal/auth"
	"vaultpad/internal/wire"
)

func getSnapshot(t *testing.T, routes http.Handler, rawQuery string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot?"+rawQuery, nil)
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	return rec
}

func postPassword(t *testing.T, routes http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/password", strings.NewReader(body))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	return rec
}

func Test_Health_Responds_OK(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	state.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func Test_Snapshot_Returns_Document_State(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)
	require.NoError(t, state.ApplyEdit("notes", insertEdit(0, 0, "hello")))

	rec := getSnapshot(t, state.Routes(), "slug=notes", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp wire.SnapshotResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, wire.SnapshotResp{Slug: "notes", Rev: 1, Content: "hello"}, resp)
}

func Test_Snapshot_Rejects_Invalid_Slug(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)

	for _, slug := range []string{"../evil", "", "/abs"} {
		rec := getSnapshot(t, state.Routes(), url.Values{"slug": {slug}}.Encode(), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "slug %q", slug)
	}
}

func Test_Snapshot_Checks_Password(t *testing.T) {
	t.Parallel()

	state, st := newState(t)
	require.NoError(t, st.WritePasswordHash("notes", auth.HashPassword("s3cret")))

	routes := state.Routes()

	rec := getSnapshot(t, routes, "slug=notes", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "no password")

	rec = getSnapshot(t, routes, url.Values{"slug": {"notes"}, "password": {"wrong"}}.Encode(), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "wrong password")

	rec = getSnapshot(t, routes, url.Values{"slug": {"notes"}, "password": {"s3cret"}}.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, "query password")

	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("notes:s3cret"))
	rec = getSnapshot(t, routes, "slug=notes", http.Header{"Authorization": {basic}})
	require.Equal(t, http.StatusOK, rec.Code, "basic auth")

	mismatched := "Basic " + base64.StdEncoding.EncodeToString([]byte("other:s3cret"))
	rec = getSnapshot(t, routes, "slug=notes", http.Header{"Authorization": {mismatched}})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "basic auth user must match slug")
}

func Test_Password_Sets_Changes_And_Clears(t *testing.T) {
	t.Parallel()

	state, st := newState(t)
	routes := state.Routes()

	rec := postPassword(t, routes, `{"slug":"notes","new_password":"one"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	pwdPath, err := st.PasswordPath("notes")
	require.NoError(t, err)

	data, err := os.ReadFile(pwdPath)
	require.NoError(t, err)
	require.Equal(t, auth.HashPassword("one"), string(data))

	rec = getSnapshot(t, routes, "slug=notes", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "document now protected")

	// Changing requires the current password.
	rec = postPassword(t, routes, `{"slug":"notes","current_password":"wrong","new_password":"two"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postPassword(t, routes, `{"slug":"notes","current_password":"one","new_password":"two"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	data, err = os.ReadFile(pwdPath)
	require.NoError(t, err)
	require.Equal(t, auth.HashPassword("two"), string(data))

	// An empty new password clears the protection.
	rec = postPassword(t, routes, `{"slug":"notes","current_password":"two"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err = os.Stat(pwdPath)
	require.True(t, os.IsNotExist(err), "password file removed")

	rec = getSnapshot(t, routes, "slug=notes", nil)
	require.Equal(t, http.StatusOK, rec.Code, "document open again")
}

func Test_Password_Rejects_Current_When_None_Set(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)

	rec := postPassword(t, state.Routes(), `{"slug":"notes","current_password":"anything","new_password":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Password_Rejects_Malformed_Body(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)

	rec := postPassword(t, state.Routes(), `{"slug":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Password_Rejects_Invalid_Slug(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)

	rec := postPassword(t, state.Routes(), `{"slug":"../evil","new_password":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Routes_Enforce_Methods(t *testing.T) {
	t.Parallel()

	state, _ := newState(t)
	routes := state.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/password", nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
