package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Formsy/internal/db"
	"github.com/soaringjerry/Formsy/internal/middleware"
)

type testEnv struct {
	handler http.Handler
	store   *db.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := db.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := NewRouter(logger, store, middleware.NewAuthenticator("test-secret"), Options{TokenTTL: time.Hour, Commit: "abc123"})
	return &testEnv{handler: rt.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "hunter2", "name": "Owner"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["token"].(string)
}

type createdForm struct {
	ID   string
	Slug string
}

func (e *testEnv) createForm(t *testing.T, token string, body map[string]any) createdForm {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/forms", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	form := decode(t, rec)["form"].(map[string]any)
	return createdForm{ID: form["id"].(string), Slug: form["slug"].(string)}
}

func (e *testEnv) addField(t *testing.T, token, formID, key string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/forms/"+formID+"/fields", token, map[string]string{"key": key, "label": key, "type": "text"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["field"].(map[string]any)["id"].(string)
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode(t, rec)["code"])
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health?lang=zh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "zh", body["locale"])
	assert.Equal(t, "好的", body["msg"])
	assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/version", "", nil)
	assert.Equal(t, "abc123", decode(t, rec)["commit"])
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "Owner@Example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "owner@example.com", "password": "x"})
	assertErrorCode(t, rec, http.StatusConflict, "conflict")

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@example.com", "password": "wrong"})
	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@example.com", "password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["token"])

	rec = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "owner@example.com", user["email"])
	assert.NotContains(t, rec.Body.String(), "PassHash")

	rec = env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestPublicFormAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Survey"})
	env.addField(t, token, form.ID, "name")
	env.addField(t, token, form.ID, "email")

	rec := env.do(t, http.MethodGet, "/api/forms/slug/"+form.Slug, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	public := decode(t, rec)["form"].(map[string]any)
	assert.Equal(t, false, public["closed"])
	assert.NotContains(t, public, "closedNotice")
	fields := public["fields"].([]any)
	require.Len(t, fields, 2)
	assert.Equal(t, float64(1), fields[0].(map[string]any)["order"])
	assert.Equal(t, float64(2), fields[1].(map[string]any)["order"])

	rec = env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", `{"answers":{"name":"Ann"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["id"])

	rec = env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", `{not json`)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid")

	rec = env.do(t, http.MethodPost, "/api/forms/missing/submissions", "", `{}`)
	assertErrorCode(t, rec, http.StatusNotFound, "not_found")

	rec = env.do(t, http.MethodGet, "/api/forms/slug/missing", "", nil)
	assertErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestPausedFormRejectsSubmissions(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Survey"})

	rec := env.do(t, http.MethodPost, "/api/forms/"+form.ID+"/pause", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["ok"])

	// A second pause succeeds without recording another job.
	rec = env.do(t, http.MethodPost, "/api/forms/"+form.ID+"/pause", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs, err := env.store.ListExportJobs(context.Background(), form.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "csv", jobs[0].Type)

	rec = env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", `{"q":"a"}`)
	assertErrorCode(t, rec, http.StatusForbidden, "closed")
	subs, err := env.store.ListSubmissions(context.Background(), form.ID, true)
	require.NoError(t, err)
	assert.Empty(t, subs)

	rec = env.do(t, http.MethodGet, "/api/forms/slug/"+form.Slug+"?lang=zh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	public := decode(t, rec)["form"].(map[string]any)
	assert.Equal(t, true, public["closed"])
	assert.Equal(t, "paused", public["state"])
	assert.Equal(t, "此表单已停止收集回复。", public["closedNotice"])
}

func TestExpiredFormUsesOwnerMessage(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	form := env.createForm(t, token, map[string]any{"title": "Late", "deadline": past, "closedMessage": "See you next year"})
	plain := env.createForm(t, token, map[string]any{"title": "Late too", "deadline": past})

	rec := env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", `{}`)
	assertErrorCode(t, rec, http.StatusForbidden, "closed")

	rec = env.do(t, http.MethodGet, "/api/forms/slug/"+form.Slug, "", nil)
	public := decode(t, rec)["form"].(map[string]any)
	assert.Equal(t, "expired", public["state"])
	assert.Equal(t, "See you next year", public["closedNotice"])

	rec = env.do(t, http.MethodGet, "/api/forms/slug/"+plain.Slug, "", nil)
	public = decode(t, rec)["form"].(map[string]any)
	assert.Equal(t, "The deadline for this form has passed.", public["closedNotice"])
}

func TestOwnerRoutesGate(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com")
	other := env.register(t, "other@example.com")
	form := env.createForm(t, owner, map[string]any{"title": "Private"})

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/forms/" + form.ID + "/pause"},
		{http.MethodPost, "/api/forms/" + form.ID + "/fields"},
		{http.MethodPost, "/api/forms/" + form.ID + "/fields/order"},
		{http.MethodGet, "/api/forms/" + form.ID + "/submissions"},
		{http.MethodGet, "/api/forms/" + form.ID + "/submissions/export"},
		{http.MethodGet, "/api/forms/" + form.ID + "/audit"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := env.do(t, p.method, p.path, "", `{}`)
			assertErrorCode(t, rec, http.StatusUnauthorized, "unauthorized")

			rec = env.do(t, p.method, p.path, other, `{"key":"k","order":[]}`)
			assertErrorCode(t, rec, http.StatusForbidden, "forbidden")

			missing := strings.Replace(p.path, form.ID, "nope", 1)
			rec = env.do(t, p.method, missing, other, `{"key":"k","order":[]}`)
			assertErrorCode(t, rec, http.StatusNotFound, "not_found")
		})
	}

	rec := env.do(t, http.MethodPost, "/api/forms", "", map[string]any{"title": "x"})
	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = env.do(t, http.MethodGet, "/api/forms", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["forms"])
}

func TestReorderFields(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Order"})
	a := env.addField(t, token, form.ID, "a")
	b := env.addField(t, token, form.ID, "b")
	c := env.addField(t, token, form.ID, "c")

	rec := env.do(t, http.MethodPost, "/api/forms/"+form.ID+"/fields/order", token, map[string]any{"order": []string{c, a, b}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fields := decode(t, rec)["fields"].([]any)
	require.Len(t, fields, 3)
	for i, want := range []string{c, a, b} {
		f := fields[i].(map[string]any)
		assert.Equal(t, want, f["id"])
		assert.Equal(t, float64(i+1), f["order"])
	}

	bad := []any{
		map[string]any{"order": []string{c, a}},
		map[string]any{"order": []string{c, a, a}},
		map[string]any{"order": []string{c, a, "ghost"}},
		map[string]any{"order": "c,a,b"},
		map[string]any{},
	}
	for _, body := range bad {
		rec = env.do(t, http.MethodPost, "/api/forms/"+form.ID+"/fields/order", token, body)
		assertErrorCode(t, rec, http.StatusBadRequest, "invalid")
	}

	rec = env.do(t, http.MethodGet, "/api/forms", token, nil)
	forms := decode(t, rec)["forms"].([]any)
	require.Len(t, forms, 1)
	listed := forms[0].(map[string]any)["fields"].([]any)
	assert.Equal(t, c, listed[0].(map[string]any)["id"])
}

func TestListAndExportSubmissions(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Export"})

	for _, body := range []string{`{"name":"Ann"}`, `{"quote":"say \"hi\""}`} {
		rec := env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/submissions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subs := decode(t, rec)["submissions"].([]any)
	require.Len(t, subs, 2)

	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/submissions/export", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="export-`+form.ID+`.csv"`, rec.Header().Get("Content-Disposition"))

	lines := strings.Split(rec.Body.String(), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,createdAt,data", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], `"{""name"":""Ann""}"`), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], `"{""quote"":""say \""hi\""""}"`), lines[2])
}

func TestCORSPreflightOnAPI(t *testing.T) {
	store := db.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRouter(logger, store, middleware.NewAuthenticator(""), Options{CORSOrigins: []string{"https://app.example.com"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/forms", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExportRoundTripsEscapedAnswers(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Quotes"})

	rec := env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", `{"answers":{"q1":"hello \"world\""}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/submissions/export", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"id", "createdAt", "data"}, records[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(records[1][2]), &got))
	assert.Equal(t, map[string]any{"q1": `hello "world"`}, got)
}

func TestMalformedInputIsRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "long@example.com", "password": strings.Repeat("x", 80)})
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid")

	token := env.register(t, "owner@example.com")
	form := env.createForm(t, token, map[string]any{"title": "Bytes"})
	rec = env.do(t, http.MethodPost, "/api/forms/"+form.Slug+"/submissions", "", "{\"a\":\"\xff\xfe\"}")
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid")

	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/submissions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["submissions"])
}

func TestFormAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com")
	other := env.register(t, "other@example.com")
	form := env.createForm(t, owner, map[string]any{"title": "Audited"})
	env.addField(t, owner, form.ID, "q1")
	rec := env.do(t, http.MethodPost, "/api/forms/"+form.ID+"/pause", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/audit", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 3)
	actions := []string{}
	for _, e := range entries {
		actions = append(actions, e.(map[string]any)["action"].(string))
	}
	assert.Equal(t, []string{"pause_form", "add_field", "create_form"}, actions)

	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/audit", other, nil)
	assertErrorCode(t, rec, http.StatusForbidden, "forbidden")
	rec = env.do(t, http.MethodGet, "/api/forms/"+form.ID+"/audit", "", nil)
	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthorized")
}
