// Package provider owns every outbound call to the external language
// provider: candidate-reply generation and probabilistic classification.
// The Gateway is the single entry point; it enforces an explicit deadline on
// every call and feeds each outcome into the per-endpoint circuit breaker
// exactly once. The gateway never retries: retry policy, if any, belongs to
// the caller.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intake-guard/internal/metrics"
)

// Endpoint names the two provider capabilities, each protected by its own
// breaker.
const (
	EndpointGenerate = "generate"
	EndpointClassify = "classify"
)

// Message is one chat message in a generation request.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest asks the provider for a candidate patient-facing reply.
type GenerateRequest struct {
	System   string
	Messages []Message
}

// ClassifyTask selects which classifier the provider should run.
type ClassifyTask string

const (
	TaskRedFlag ClassifyTask = "red_flag"
	TaskSafety  ClassifyTask = "safety"
)

// ClassifyRequest asks the provider to classify text, optionally with
// surrounding conversation context.
type ClassifyRequest struct {
	Task    ClassifyTask
	Text    string
	Context []string
}

// ClassifyResult is the provider's verdict. Verdict values depend on the
// task: red_flag returns none/urgent/emergency plus a condition label;
// safety returns safe or a violation kind.
type ClassifyResult struct {
	Verdict    string  `json:"verdict"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Backend is the raw provider transport. Implementations must respect
// context cancellation; the Gateway applies the deadline.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
}

// Gateway wraps a Backend with per-endpoint circuit breakers and hard
// per-call timeouts. One Gateway (and therefore one breaker pair) is shared
// process-wide across all sessions.
type Gateway struct {
	backend  Backend
	generate *Breaker
	classify *Breaker
	log      *zap.Logger
}

// NewGateway builds a Gateway around backend with fresh breakers.
func NewGateway(backend Backend, failureThreshold int, cooldown time.Duration, log *zap.Logger) *Gateway {
	return &Gateway{
		backend:  backend,
		generate: NewBreaker(failureThreshold, cooldown),
		classify: NewBreaker(failureThreshold, cooldown),
		log:      log,
	}
}

// Generate requests a candidate reply under the given timeout.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest, timeout time.Duration) (string, error) {
	var reply string
	err := g.call(ctx, EndpointGenerate, g.generate, timeout, func(ctx context.Context) error {
		var err error
		reply, err = g.backend.Generate(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Classify requests a classification verdict under the given timeout.
func (g *Gateway) Classify(ctx context.Context, req ClassifyRequest, timeout time.Duration) (ClassifyResult, error) {
	var res ClassifyResult
	err := g.call(ctx, EndpointClassify, g.classify, timeout, func(ctx context.Context) error {
		var err error
		res, err = g.backend.Classify(ctx, req)
		return err
	})
	if err != nil {
		return ClassifyResult{}, err
	}
	return res, nil
}

// call runs fn behind the breaker with a hard deadline. There is no
// unbounded wait: a non-positive timeout is rejected outright. Every
// admitted call records its outcome on the breaker exactly once, whether it
// succeeded, timed out, or errored.
func (g *Gateway) call(ctx context.Context, endpoint string, b *Breaker, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: missing timeout for %s", ErrCall, endpoint)
	}
	if err := b.Allow(); err != nil {
		metrics.ProviderCalls.WithLabelValues(endpoint, "rejected").Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	success := err == nil
	b.Record(success)
	g.publishState(endpoint, b)

	if err == nil {
		metrics.ProviderCalls.WithLabelValues(endpoint, "ok").Inc()
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		metrics.ProviderCalls.WithLabelValues(endpoint, "timeout").Inc()
		g.log.Warn("provider call timed out", zap.String("endpoint", endpoint), zap.Duration("timeout", timeout))
		return fmt.Errorf("%w: %s after %s", ErrTimeout, endpoint, timeout)
	}
	metrics.ProviderCalls.WithLabelValues(endpoint, "error").Inc()
	g.log.Warn("provider call failed", zap.String("endpoint", endpoint), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrCall, endpoint, err)
}

func (g *Gateway) publishState(endpoint string, b *Breaker) {
	state, _ := b.State()
	metrics.BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// BreakerStates reports the current state of both endpoint breakers, for
// the health endpoint.
func (g *Gateway) BreakerStates() map[string]string {
	gs, _ := g.generate.State()
	cs, _ := g.classify.State()
	return map[string]string{
		EndpointGenerate: gs.String(),
		EndpointClassify: cs.String(),
	}
}
