package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/synthesis-gateway/internal/engine"
	"github.com/lexiqai/synthesis-gateway/internal/resilience"
)

type fakeServer struct {
	healthy  atomic.Bool
	status   int
	lastBody atomic.Value
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/generate/speech", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)

		if f.status != 0 && f.status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"detail":"model exploded","error_code":"INFERENCE"}`))
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(make([]byte, 2048))
	})
	return mux
}

func newEngine(t *testing.T, f *fakeServer, breaker *resilience.CircuitBreaker) *engine.HTTPEngine {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return engine.NewHTTPEngine(engine.HTTPOptions{
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
		Breaker:   breaker,
		Reconnect: &resilience.ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond},
		Logger:    zerolog.Nop(),
	})
}

func TestHTTPEngine_SynthesizeWritesOutput(t *testing.T) {
	t.Parallel()

	f := &fakeServer{}
	f.healthy.Store(true)
	eng := newEngine(t, f, nil)

	require.NoError(t, eng.Load(context.Background()))

	out := filepath.Join(t.TempDir(), "out.wav")
	err := eng.Synthesize(context.Background(), engine.Request{Text: "hello", Language: "en", OutputPath: out})
	require.NoError(t, err)

	stat, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), stat.Size())

	body := f.lastBody.Load().(map[string]any)
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "en", body["language"])
	assert.InDelta(t, 0.75, body["temperature"], 1e-9)
	assert.NotContains(t, body, "speaker_ref_path")
}

func TestHTTPEngine_CloneSendsReference(t *testing.T) {
	t.Parallel()

	f := &fakeServer{}
	f.healthy.Store(true)
	eng := newEngine(t, f, nil)
	require.NoError(t, eng.Load(context.Background()))

	out := filepath.Join(t.TempDir(), "out.wav")
	err := eng.Clone(context.Background(), engine.Request{Text: "hola", Language: "es", ReferenceAudio: "/refs/a.wav", OutputPath: out})
	require.NoError(t, err)

	body := f.lastBody.Load().(map[string]any)
	assert.Equal(t, "/refs/a.wav", body["speaker_ref_path"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)

	err = eng.Clone(context.Background(), engine.Request{Text: "hola", Language: "es", OutputPath: out})
	require.ErrorIs(t, err, engine.ErrMissingRefAudio)
}

func TestHTTPEngine_LoadFailsWhenUnhealthy(t *testing.T) {
	t.Parallel()

	eng := newEngine(t, &fakeServer{}, nil)

	require.Error(t, eng.Load(context.Background()))

	err := eng.Synthesize(context.Background(), engine.Request{Text: "x", OutputPath: filepath.Join(t.TempDir(), "o.wav")})
	require.ErrorIs(t, err, engine.ErrNotLoaded)
}

func TestHTTPEngine_StructuredError(t *testing.T) {
	t.Parallel()

	f := &fakeServer{status: http.StatusInternalServerError}
	f.healthy.Store(true)
	eng := newEngine(t, f, nil)
	require.NoError(t, eng.Load(context.Background()))

	err := eng.Synthesize(context.Background(), engine.Request{Text: "x", Language: "en", OutputPath: filepath.Join(t.TempDir(), "o.wav")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
	assert.Contains(t, err.Error(), "INFERENCE")
}

func TestHTTPEngine_BreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	f := &fakeServer{status: http.StatusBadGateway}
	f.healthy.Store(true)
	breaker := resilience.NewCircuitBreaker("engine", 2, time.Minute)
	eng := newEngine(t, f, breaker)
	require.NoError(t, eng.Load(context.Background()))

	req := engine.Request{Text: "x", Language: "en", OutputPath: filepath.Join(t.TempDir(), "o.wav")}
	_ = eng.Synthesize(context.Background(), req)
	_ = eng.Synthesize(context.Background(), req)

	err := eng.Synthesize(context.Background(), req)
	require.True(t, errors.Is(err, resilience.ErrCircuitOpen))
}

func TestHTTPEngine_HealthyReportsOpenCircuit(t *testing.T) {
	t.Parallel()

	f := &fakeServer{status: http.StatusBadGateway}
	f.healthy.Store(true)
	breaker := resilience.NewCircuitBreaker("engine", 1, time.Minute)
	eng := newEngine(t, f, breaker)
	require.NoError(t, eng.Load(context.Background()))

	req := engine.Request{Text: "x", Language: "en", OutputPath: filepath.Join(t.TempDir(), "o.wav")}
	_ = eng.Synthesize(context.Background(), req)
	require.Equal(t, resilience.StateOpen, breaker.GetState())

	// Server still down: not healthy, circuit stays open.
	f.healthy.Store(false)
	err := eng.Healthy(context.Background())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "1 of 1 engine calls failed")
	assert.Equal(t, resilience.StateOpen, breaker.GetState())

	// Server answers again: healthy, circuit closed.
	f.healthy.Store(true)
	require.NoError(t, eng.Healthy(context.Background()))
	assert.Equal(t, resilience.StateClosed, breaker.GetState())
}
