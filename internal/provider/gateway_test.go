package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend scripts provider behavior per call.
type fakeBackend struct {
	generateCalls atomic.Int64
	classifyCalls atomic.Int64

	generateReply string
	generateErr   error
	generateHang  bool

	classifyResult ClassifyResult
	classifyErr    error
}

func (f *fakeBackend) Generate(ctx context.Context, _ GenerateRequest) (string, error) {
	f.generateCalls.Add(1)
	if f.generateHang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.generateReply, f.generateErr
}

func (f *fakeBackend) Classify(ctx context.Context, _ ClassifyRequest) (ClassifyResult, error) {
	f.classifyCalls.Add(1)
	return f.classifyResult, f.classifyErr
}

func newTestGateway(backend Backend) *Gateway {
	return NewGateway(backend, 3, time.Minute, zap.NewNop())
}

func TestGatewayGenerateSuccess(t *testing.T) {
	backend := &fakeBackend{generateReply: "Could you tell me more about the pain?"}
	gw := newTestGateway(backend)

	reply, err := gw.Generate(context.Background(), GenerateRequest{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Could you tell me more about the pain?", reply)
	assert.Equal(t, int64(1), backend.generateCalls.Load())
}

func TestGatewayTimeoutClassifiedAndCounted(t *testing.T) {
	backend := &fakeBackend{generateHang: true}
	gw := newTestGateway(backend)

	_, err := gw.Generate(context.Background(), GenerateRequest{}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// The timeout fed the breaker exactly once.
	_, failures := gw.generate.State()
	assert.Equal(t, 1, failures)
}

func TestGatewayErrorClassified(t *testing.T) {
	backend := &fakeBackend{generateErr: errors.New("upstream 500")}
	gw := newTestGateway(backend)

	_, err := gw.Generate(context.Background(), GenerateRequest{}, time.Second)
	assert.ErrorIs(t, err, ErrCall)
	_, failures := gw.generate.State()
	assert.Equal(t, 1, failures)
}

func TestGatewayOpenBreakerRejectsWithoutCalling(t *testing.T) {
	backend := &fakeBackend{generateErr: errors.New("down")}
	gw := newTestGateway(backend)

	for i := 0; i < 3; i++ {
		_, err := gw.Generate(context.Background(), GenerateRequest{}, time.Second)
		require.Error(t, err)
	}
	state, _ := gw.generate.State()
	require.Equal(t, StateOpen, state)

	callsBefore := backend.generateCalls.Load()
	_, err := gw.Generate(context.Background(), GenerateRequest{}, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, callsBefore, backend.generateCalls.Load(), "rejected call must not reach the backend")
}

func TestGatewayEndpointBreakersAreIndependent(t *testing.T) {
	backend := &fakeBackend{
		generateErr:    errors.New("down"),
		classifyResult: ClassifyResult{Verdict: "none", Confidence: 0.9},
	}
	gw := newTestGateway(backend)

	for i := 0; i < 3; i++ {
		_, _ = gw.Generate(context.Background(), GenerateRequest{}, time.Second)
	}
	state, _ := gw.generate.State()
	require.Equal(t, StateOpen, state)

	// Classification still flows.
	res, err := gw.Classify(context.Background(), ClassifyRequest{Task: TaskRedFlag, Text: "x"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Verdict)
}

func TestGatewayRequiresTimeout(t *testing.T) {
	gw := newTestGateway(&fakeBackend{})
	_, err := gw.Generate(context.Background(), GenerateRequest{}, 0)
	assert.Error(t, err)
}

func TestParseClassifyResult(t *testing.T) {
	res, err := parseClassifyResult(`{"verdict": "emergency", "label": "cauda_equina", "confidence": 0.92}`)
	require.NoError(t, err)
	assert.Equal(t, "emergency", res.Verdict)
	assert.Equal(t, "cauda_equina", res.Label)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)

	// Tolerates code fences and prose around the JSON object.
	res, err = parseClassifyResult("Here is the verdict:\n```json\n{\"verdict\": \"safe\", \"confidence\": 1}\n```")
	require.NoError(t, err)
	assert.Equal(t, "safe", res.Verdict)

	_, err = parseClassifyResult("no json here")
	assert.Error(t, err)

	_, err = parseClassifyResult(`{"confidence": 0.5}`)
	assert.Error(t, err)
}
