package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/resilience"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeXWAV   = "audio/x-wav"
)

// Default values.
const (
	defaultTemperature      = 0.75
	defaultCloneTemperature = 0.7
	maxErrorBody            = 4096
)

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "engine error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "engine returned non-OK status: %s, body: %s"
)

var ErrEmptyAudio = errors.New("engine returned empty audio")

// speechRequest is the JSON body of POST /v1/generate/speech.
type speechRequest struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
	Model          string  `json:"model,omitempty"`
}

// errorResponse is the structured error body returned by the engine server.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	BaseURL          string
	Timeout          time.Duration
	Temperature      float64
	CloneTemperature float64
	// Breaker guards generate calls. Optional.
	Breaker *resilience.CircuitBreaker
	// Reconnect controls how long Load waits for the server. Optional.
	Reconnect *resilience.ReconnectConfig
	Logger    zerolog.Logger
}

// HTTPEngine calls a standalone engine server that loads the model in its
// own process.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	opts       HTTPOptions
	loaded     atomic.Bool
}

// NewHTTPEngine creates an engine client for baseURL, e.g. http://localhost:8000.
func NewHTTPEngine(opts HTTPOptions) *HTTPEngine {
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.CloneTemperature == 0 {
		opts.CloneTemperature = defaultCloneTemperature
	}

	return &HTTPEngine{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		opts: opts,
	}
}

func (e *HTTPEngine) Name() string {
	return "http"
}

// Load waits until the engine server reports healthy.
func (e *HTTPEngine) Load(ctx context.Context) error {
	err := resilience.Reconnect(ctx, e.opts.Logger, e.baseURL, e.ping, e.opts.Reconnect)
	if err != nil {
		return fmt.Errorf("engine server unavailable: %w", err)
	}

	e.loaded.Store(true)

	return nil
}

func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) error {
	if err := checkRequest(req, false); err != nil {
		return err
	}
	return e.generate(ctx, req, e.opts.Temperature)
}

func (e *HTTPEngine) Clone(ctx context.Context, req Request) error {
	if err := checkRequest(req, true); err != nil {
		return err
	}
	return e.generate(ctx, req, e.opts.CloneTemperature)
}

func (e *HTTPEngine) generate(ctx context.Context, req Request, temperature float64) error {
	if !e.loaded.Load() {
		return ErrNotLoaded
	}

	call := func(ctx context.Context) error {
		data, err := e.generateSpeech(ctx, speechRequest{
			Text:           req.Text,
			SpeakerRefPath: req.ReferenceAudio,
			Language:       req.Language,
			Temperature:    temperature,
			Model:          req.Model,
		})
		if err != nil {
			return err
		}

		if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write audio to %s: %w", req.OutputPath, err)
		}

		return nil
	}

	if e.opts.Breaker == nil {
		return call(ctx)
	}

	return e.opts.Breaker.CallContext(ctx, call)
}

func (e *HTTPEngine) generateSpeech(ctx context.Context, payload speechRequest) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+apiGenerateSpeech, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to engine at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != contentTypeWAV && mediaType != contentTypeXWAV {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", readErr)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

// Healthy reports an open circuit as unhealthy until the server answers
// GET /health again, which closes the circuit.
func (e *HTTPEngine) Healthy(ctx context.Context) error {
	b := e.opts.Breaker
	if b == nil || b.GetState() != resilience.StateOpen {
		return e.ping(ctx)
	}

	_, requests, failures, rate := b.GetStats()
	if err := e.ping(ctx); err != nil {
		return fmt.Errorf("%w: %d of %d engine calls failed (%.0f%%): %w", resilience.ErrCircuitOpen, failures, requests, rate, err)
	}

	e.opts.Logger.Info().
		Str("circuit", b.Name()).
		Int64("failures", failures).
		Msg("Engine server healthy again, closing circuit")
	b.Reset()

	return nil
}

// ping performs a lightweight GET /health against the engine server.
func (e *HTTPEngine) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for engine at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (e *HTTPEngine) Close() error {
	e.loaded.Store(false)
	e.httpClient.CloseIdleConnections()
	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp errorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(raw)))
}
