package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-guard/internal/audit"
	"intake-guard/internal/detect"
	"intake-guard/internal/escalate"
	"intake-guard/internal/lang"
	"intake-guard/internal/orchestrator"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/internal/session"
	"intake-guard/pkg"
)

type fakeBackend struct {
	generateReply string
}

func (f *fakeBackend) Generate(_ context.Context, _ provider.GenerateRequest) (string, error) {
	return f.generateReply, nil
}

func (f *fakeBackend) Classify(_ context.Context, req provider.ClassifyRequest) (provider.ClassifyResult, error) {
	if req.Task == provider.TaskRedFlag {
		return provider.ClassifyResult{Verdict: "none", Confidence: 0.9}, nil
	}
	return provider.ClassifyResult{Verdict: "safe", Confidence: 0.95}, nil
}

type nullSink struct{}

func (nullSink) RecordTurn(context.Context, audit.TurnRecord) error          { return nil }
func (nullSink) RecordEscalation(context.Context, pkg.EscalationEvent) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.yaml"), []byte(`language: en
rules:
  - pattern: "can't feel my legs"
    flag_type: cauda_equina
    severity: emergency
`), 0o644))
	store, err := rules.NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	log := zap.NewNop()
	gw := provider.NewGateway(&fakeBackend{generateReply: "Could you tell me more?"}, 5, time.Minute, log)
	classifier := provider.NewClassifier(gw)
	sessions := session.NewMemoryStore()
	recorder := audit.NewRecorder(nullSink{}, log)
	t.Cleanup(recorder.Close)

	orch := orchestrator.New(
		sessions,
		lang.NewNormalizer(gw, time.Second, log),
		detect.NewRedFlagDetector(store, classifier, time.Second, log),
		detect.NewSafetyClassifier(store, classifier, time.Second, false, log),
		gw,
		store,
		&escalate.LogNotifier{Log: log},
		recorder,
		orchestrator.Config{},
		log,
	)
	return NewServer(orch, sessions, gw, log)
}

func createSession(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func postTurn(router http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/turns", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionAndProcessTurn(t *testing.T) {
	router := newTestServer(t).Router()
	id := createSession(t, router)

	rec := postTurn(router, id, `{"text": "my knee hurts when I walk"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TurnID)
	assert.Equal(t, "Could you tell me more?", resp.FinalReply)
	assert.Equal(t, pkg.SeverityNone, resp.Severity)
}

func TestProcessTurnEmergencyResponse(t *testing.T) {
	router := newTestServer(t).Router()
	id := createSession(t, router)

	rec := postTurn(router, id, `{"text": "I can't feel my legs"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.EscalationRequired)
	assert.Equal(t, pkg.SeverityEmergency, resp.Severity)
	assert.NotEmpty(t, resp.FinalReply)
}

func TestProcessTurnValidation(t *testing.T) {
	router := newTestServer(t).Router()
	id := createSession(t, router)

	rec := postTurn(router, id, `{"text": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postTurn(router, id, `{"text": "hello", "modality": "carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postTurn(router, id, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessTurnUnknownSession(t *testing.T) {
	router := newTestServer(t).Router()
	rec := postTurn(router, "does-not-exist", `{"text": "hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionStatus(t *testing.T) {
	router := newTestServer(t).Router()
	id := createSession(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sess pkg.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, pkg.SessionActive, sess.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsBreakerStates(t *testing.T) {
	router := newTestServer(t).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "closed", resp.Breakers["generate"])
	assert.Equal(t, "closed", resp.Breakers["classify"])
}
