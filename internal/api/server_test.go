package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/pipeline"
	"github.com/dgallion1/docards/internal/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "secret-key"

type stubDocs struct{}

func (stubDocs) FetchDocument(ctx context.Context, id string) (*doctree.Document, error) {
	return &doctree.Document{Title: "Plan", Body: []doctree.Node{doctree.Para("Build export.")}}, nil
}

type stubCompleter struct{ reply string }

func (c stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.reply, nil
}

func (stubCompleter) Model() string { return "stub" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	reg := prometheus.NewRegistry()

	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	runner := pipeline.NewRunner(pipeline.Deps{
		Docs:      stubDocs{},
		Completer: stubCompleter{reply: `[{"summary":"Build export","description":"d","acceptanceCriteria":["a"]}]`},
		Policy:    policy,
		Metrics:   pipeline.NewMetrics(reg),
		Log:       log,
	})
	orch := pipeline.NewOrchestrator(runner, 4, time.Hour, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	cfg := config.Defaults()
	cfg.APIKey = testKey
	return NewServer(orch, reg, log, cfg)
}

func do(t *testing.T, srv http.Handler, method, path, contentType string, body []byte, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health", "", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "queue_depth")
}

func TestMetricsArePublic(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/metrics", "", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docards_fallbacks_total 0")
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/recover", "", []byte("[]"), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/recover", strings.NewReader("[]"))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid api key", decode(t, rec)["error"])
}

func TestSubmitRun(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/runs", "application/json", []byte(`{"document":"doc1234567890"}`), true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "/api/runs/"+runID, body["poll_url"])

	var status map[string]any
	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/api/runs/"+runID, "", nil, true)
		if rec.Code != http.StatusOK {
			return false
		}
		status = decode(t, rec)
		return status["status"] == string(pipeline.StatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)

	progress := status["progress"].(map[string]any)
	assert.Equal(t, 1.0, progress["cards_valid"])
	assert.Equal(t, "remote", progress["source"])
}

func TestSubmitRun_BadReference(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/runs", "application/json", []byte(`{"document":"nope"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/runs", "application/json", []byte(`{}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "document is required", decode(t, rec)["error"])
}

func TestRunStatus_NotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/runs/missing", "", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecover(t *testing.T) {
	srv := newTestServer(t)
	reply := "Sure:\n```json\n[{summary: \"Add login\", description: \"d\", acceptanceCriteria: [\"works\"],},]\n```"

	rec := do(t, srv, http.MethodPost, "/api/recover", "text/plain", []byte(reply), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["repaired"])
	assert.Equal(t, "1 valid, 0 records invalid", body["summary"])
	valid := body["valid"].([]any)
	require.Len(t, valid, 1)
	assert.Equal(t, "Add login", valid[0].(map[string]any)["summary"])
}

func TestRecover_Unparseable(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/recover", "text/plain", []byte("I could not find any work items."), true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "I could not find any work items.", body["original"])
	assert.Contains(t, body, "repaired")
	assert.NotEmpty(t, body["error"])
}

func multipartBody(t *testing.T, filename, content string) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf.Bytes()
}

func TestFlatten(t *testing.T) {
	srv := newTestServer(t)
	ct, body := multipartBody(t, "../notes.txt", "ship   it\n\nthen test\n")

	rec := do(t, srv, http.MethodPost, "/api/flatten", ct, body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "notes.txt", out["filename"])
	assert.Equal(t, "notes", out["title"])
	assert.Equal(t, "# notes\n\nship it\nthen test", out["normalized_text"])
	assert.Len(t, out["content_hash"], 64)
}

func TestFlatten_UnsupportedType(t *testing.T) {
	srv := newTestServer(t)
	ct, body := multipartBody(t, "image.png", "\x89PNG")
	rec := do(t, srv, http.MethodPost, "/api/flatten", ct, body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unsupported file type")
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"report.pdf":       "report.pdf",
		"":                 "unnamed",
		"..":               "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
