package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-guard/internal/audit"
	"intake-guard/internal/detect"
	"intake-guard/internal/lang"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/internal/session"
	"intake-guard/pkg"
)

type fakeBackend struct {
	generateCalls atomic.Int64
	classifyCalls atomic.Int64

	generateReply string
	generateErr   error

	redFlagResult provider.ClassifyResult
	redFlagErr    error
	safetyResult  provider.ClassifyResult
	safetyErr     error
}

func (f *fakeBackend) Generate(_ context.Context, _ provider.GenerateRequest) (string, error) {
	f.generateCalls.Add(1)
	return f.generateReply, f.generateErr
}

func (f *fakeBackend) Classify(_ context.Context, req provider.ClassifyRequest) (provider.ClassifyResult, error) {
	f.classifyCalls.Add(1)
	if req.Task == provider.TaskRedFlag {
		return f.redFlagResult, f.redFlagErr
	}
	return f.safetyResult, f.safetyErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []pkg.EscalationEvent
	seen   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{seen: make(chan struct{}, 8)}
}

func (n *fakeNotifier) Notify(_ context.Context, event pkg.EscalationEvent) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	n.seen <- struct{}{}
	return nil
}

func (n *fakeNotifier) waitForEvent(t *testing.T) pkg.EscalationEvent {
	t.Helper()
	select {
	case <-n.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no escalation notification arrived")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type nullSink struct{}

func (nullSink) RecordTurn(context.Context, audit.TurnRecord) error          { return nil }
func (nullSink) RecordEscalation(context.Context, pkg.EscalationEvent) error { return nil }

type harness struct {
	orch     *Orchestrator
	sessions *session.MemoryStore
	backend  *fakeBackend
	notifier *fakeNotifier
	recorder *audit.Recorder
}

func newHarness(t *testing.T, backend *fakeBackend) *harness {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"en.yaml": `language: en
rules:
  - pattern: "can't feel my legs"
    flag_type: cauda_equina
    severity: emergency
  - pattern: "bent at a weird angle"
    flag_type: fracture
    severity: urgent
`,
		"violations.yaml": `rules:
  - pattern: "you have a"
    kind: diagnosis
`,
		"blocked.yaml": `rules:
  - pattern: "what's my diagnosis"
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	store, err := rules.NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	log := zap.NewNop()
	gw := provider.NewGateway(backend, 5, time.Minute, log)
	classifier := provider.NewClassifier(gw)
	normalizer := lang.NewNormalizer(gw, time.Second, log)
	redFlags := detect.NewRedFlagDetector(store, classifier, time.Second, log)
	safety := detect.NewSafetyClassifier(store, classifier, time.Second, false, log)
	sessions := session.NewMemoryStore()
	notifier := newFakeNotifier()
	recorder := audit.NewRecorder(nullSink{}, log)
	t.Cleanup(recorder.Close)

	orch := New(sessions, normalizer, redFlags, safety, gw, store, notifier, recorder, Config{}, log)
	return &harness{orch: orch, sessions: sessions, backend: backend, notifier: notifier, recorder: recorder}
}

func (h *harness) newSession(t *testing.T) string {
	t.Helper()
	sess, err := h.sessions.Create(context.Background(), "en")
	require.NoError(t, err)
	return sess.ID
}

func cleanBackend() *fakeBackend {
	return &fakeBackend{
		generateReply: "Could you tell me more about when the pain started?",
		redFlagResult: provider.ClassifyResult{Verdict: "none", Confidence: 0.9},
		safetyResult:  provider.ClassifyResult{Verdict: "safe", Confidence: 0.95},
	}
}

func TestProcessTurnDeliversSafeReply(t *testing.T) {
	backend := cleanBackend()
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "my knee aches after running", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TurnID)
	assert.Equal(t, backend.generateReply, resp.FinalReply)
	assert.Equal(t, pkg.SeverityNone, resp.Severity)
	assert.False(t, resp.EscalationRequired)
	assert.False(t, resp.Degraded)
	assert.Equal(t, int64(1), backend.generateCalls.Load())
}

func TestProcessTurnEmergencyBypassesGeneration(t *testing.T) {
	backend := cleanBackend()
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "I can't feel my legs after the accident", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.True(t, resp.EscalationRequired)
	assert.Equal(t, pkg.SeverityEmergency, resp.Severity)
	assert.Equal(t, emergencyMessages["cauda_equina"], resp.FinalReply)
	assert.Zero(t, backend.generateCalls.Load(), "an escalated turn must not consult the generation provider")

	event := h.notifier.waitForEvent(t)
	assert.Equal(t, id, event.SessionID)
	assert.Equal(t, pkg.SeverityEmergency, event.Severity)
	assert.NotEmpty(t, event.ID)

	sess, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pkg.SessionEscalated, sess.Status)
}

func TestProcessTurnUrgentGetsUrgentScript(t *testing.T) {
	backend := cleanBackend()
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "my arm is bent at a weird angle", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.True(t, resp.EscalationRequired)
	assert.Equal(t, pkg.SeverityUrgent, resp.Severity)
	assert.Equal(t, urgentMessage, resp.FinalReply)
	assert.Zero(t, backend.generateCalls.Load())
}

func TestProcessTurnClassifierEscalationAlone(t *testing.T) {
	// No lexical rule fires; the probabilistic layer alone forces the
	// escalation path.
	backend := cleanBackend()
	backend.redFlagResult = provider.ClassifyResult{Verdict: "emergency", Label: "cardiac", Confidence: 0.85}
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "there is an elephant sitting on my chest", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.True(t, resp.EscalationRequired)
	assert.Equal(t, emergencyMessages["cardiac"], resp.FinalReply)
	assert.Zero(t, backend.generateCalls.Load())
}

func TestProcessTurnSubstitutesUnsafeCandidate(t *testing.T) {
	backend := cleanBackend()
	backend.generateReply = "You have a meniscus tear"
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "my knee clicked and now it hurts", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.NotContains(t, resp.FinalReply, "meniscus", "the unsafe draft must never reach the patient")
	assert.Equal(t, substitutionMessages[0], resp.FinalReply)
	require.NotNil(t, resp.Verdict)
	assert.False(t, resp.Verdict.IsSafe)
}

func TestProcessTurnGenerationFailureFallsBack(t *testing.T) {
	backend := cleanBackend()
	backend.generateErr = errors.New("upstream 500")
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "my knee hurts a bit", Modality: pkg.ModalityText,
	})
	require.NoError(t, err, "provider failure is degraded service, not a request error")
	assert.Equal(t, providerFallbackMessage, resp.FinalReply)
	assert.True(t, resp.Degraded)
	assert.Equal(t, int64(1), backend.generateCalls.Load())
}

func TestProcessTurnBlockedQuestionRedirects(t *testing.T) {
	backend := cleanBackend()
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "so what's my diagnosis then?", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.Equal(t, blockedRedirectMessage, resp.FinalReply)
	assert.Zero(t, backend.generateCalls.Load(), "blocked questions are answered from script")
}

func TestProcessTurnDegradedClassifierStillDelivers(t *testing.T) {
	backend := cleanBackend()
	backend.redFlagErr = errors.New("classify down")
	backend.safetyErr = errors.New("classify down")
	h := newHarness(t, backend)
	id := h.newSession(t)

	resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: id, PatientText: "my knee hurts a bit", Modality: pkg.ModalityText,
	})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, backend.generateReply, resp.FinalReply, "lexical-clean turns still get a reply when the classifier is down")
}

func TestProcessTurnRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, cleanBackend())
	id := h.newSession(t)

	_, err := h.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: id, PatientText: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "", PatientText: "hello"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessTurnUnknownSession(t *testing.T) {
	h := newHarness(t, cleanBackend())
	_, err := h.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "missing", PatientText: "hello"})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestProcessTurnIDsIncrement(t *testing.T) {
	h := newHarness(t, cleanBackend())
	id := h.newSession(t)

	for want := 1; want <= 3; want++ {
		resp, err := h.orch.ProcessTurn(context.Background(), TurnRequest{
			SessionID: id, PatientText: "my knee hurts", Modality: pkg.ModalityText,
		})
		require.NoError(t, err)
		assert.Equal(t, want, resp.TurnID)
	}

	sess, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TurnCount)
}

func TestScriptedEscalationMessageSelection(t *testing.T) {
	// Dedicated template for the highest-severity flag.
	msg := scriptedEscalationMessage(2, []flagRef{
		{flagType: "fracture", rank: 1},
		{flagType: "hemorrhage", rank: 2},
	})
	assert.Equal(t, emergencyMessages["hemorrhage"], msg)

	// Unknown emergency flag type falls back to the generic script.
	msg = scriptedEscalationMessage(2, []flagRef{{flagType: "mystery", rank: 2}})
	assert.Equal(t, genericEmergencyMessage, msg)

	// Urgent severity always uses the urgent script.
	msg = scriptedEscalationMessage(1, []flagRef{{flagType: "fracture", rank: 1}})
	assert.Equal(t, urgentMessage, msg)
}
