package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/synthesis-gateway/internal/audio/audiotest"
	"github.com/lexiqai/synthesis-gateway/internal/engine"
	"github.com/lexiqai/synthesis-gateway/internal/materials"
	"github.com/lexiqai/synthesis-gateway/internal/speakers"
	"github.com/lexiqai/synthesis-gateway/internal/synthesis"
)

// stubEngine writes a fixed payload, or fails when fail is set.
type stubEngine struct {
	fail  bool
	block chan struct{}
}

func (e *stubEngine) Name() string                  { return "stub" }
func (e *stubEngine) Load(context.Context) error    { return nil }
func (e *stubEngine) Healthy(context.Context) error { return nil }
func (e *stubEngine) Close() error                  { return nil }

func (e *stubEngine) Synthesize(ctx context.Context, req engine.Request) error {
	return e.write(ctx, req)
}

func (e *stubEngine) Clone(ctx context.Context, req engine.Request) error {
	return e.write(ctx, req)
}

func (e *stubEngine) write(ctx context.Context, req engine.Request) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.fail {
		return errors.New("vocoder exploded at /opt/models/secret")
	}
	return os.WriteFile(req.OutputPath, bytes.Repeat([]byte{1}, 2048), 0o644)
}

type testEnv struct {
	dir       string
	handler   http.Handler
	svc       *synthesis.Service
	engine    *stubEngine
	materials *materials.Store
}

func newTestEnv(t *testing.T, start bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	ref := audiotest.WriteWAV(t, filepath.Join(dir, "speakers", "female_01.wav"), 4)

	registry, err := speakers.New(speakers.Profile{
		Name:        "female_01",
		Language:    "zh-cn",
		Description: "Warm female voice",
		Reference:   ref,
	})
	require.NoError(t, err)

	eng := &stubEngine{}
	svc := synthesis.New(synthesis.Options{
		Workers:          2,
		MaxTextLength:    50,
		Models:           []string{"tts_models/multilingual/multi-dataset/xtts_v2"},
		OutputDir:        filepath.Join(dir, "output"),
		EngineSerialized: true,
	}, eng, registry, zerolog.Nop())
	t.Cleanup(func() { _ = svc.Shutdown(time.Second) })

	if start {
		require.NoError(t, svc.Start(context.Background()))
	}

	store, err := materials.New(filepath.Join(dir, "materials"), 1<<20, zerolog.Nop())
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{DefaultLanguage: "zh-cn", WaitTimeout: 5 * time.Second}, svc, store, zerolog.Nop())

	return &testEnv{dir: dir, handler: handler, svc: svc, engine: eng, materials: store}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	return rr
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) testEnvelope {
	t.Helper()

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())

	return env
}

func TestGenerate_Success(t *testing.T) {
	env := newTestEnv(t, true)

	rr := env.do(t, http.MethodPost, APIPrefix+"/generate", map[string]string{
		"text":      "你好，世界",
		"speakerId": "female_01",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))

	body := decodeEnvelope(t, rr)
	assert.True(t, body.Success)

	var data audioResponse
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.True(t, strings.HasPrefix(data.FilePath, "generated/zh-cn/"), data.FilePath)
	assert.True(t, strings.HasSuffix(data.FileName, ".wav"))
	assert.Equal(t, int64(2048), data.SizeBytes)

	// The returned URL serves the file.
	rr = env.do(t, http.MethodGet, data.AudioURL, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "audio/wav", rr.Header().Get("Content-Type"))
	assert.Equal(t, 2048, rr.Body.Len())
}

func TestGenerate_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{"empty text", map[string]string{"text": "  ", "speakerId": "female_01"}, "empty"},
		{"too long", map[string]string{"text": strings.Repeat("a", 51), "speakerId": "female_01"}, "50"},
		{"unknown speaker", map[string]string{"text": "hi", "speakerId": "nobody", "language": "en"}, "nobody"},
		{"bad language", map[string]string{"text": "hi", "language": "xx"}, "zh-cn"},
		{"bad model", map[string]string{"text": "hi", "speakerId": "female_01", "model": "tacotron"}, "tacotron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, APIPrefix+"/generate", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			body := decodeEnvelope(t, rr)
			assert.False(t, body.Success)
			assert.Contains(t, body.Message, tt.want)
		})
	}

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, APIPrefix+"/generate", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGenerate_NotInitialized(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, http.MethodPost, APIPrefix+"/generate", map[string]string{"text": "hi", "speakerId": "female_01"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = env.do(t, http.MethodGet, APIPrefix+"/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGenerate_ShuttingDown(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.svc.Shutdown(time.Second))

	rr := env.do(t, http.MethodPost, APIPrefix+"/generate", map[string]string{"text": "hi", "speakerId": "female_01"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGenerate_EngineFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, true)
	env.engine.fail = true

	rr := env.do(t, http.MethodPost, APIPrefix+"/generate", map[string]string{"text": "hi", "speakerId": "female_01"})
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	body := decodeEnvelope(t, rr)
	assert.Equal(t, synthesis.GenericEngineMessage, body.Message)
	assert.NotContains(t, rr.Body.String(), "/opt/models")
}

func TestGenerate_WaitTimeout(t *testing.T) {
	env := newTestEnv(t, true)
	env.engine.block = make(chan struct{})
	t.Cleanup(func() { close(env.engine.block) })

	router := NewRouter(RouterConfig{WaitTimeout: 20 * time.Millisecond}, env.svc, env.materials, zerolog.Nop())

	data, err := json.Marshal(map[string]string{"text": "hi", "speakerId": "female_01"})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, APIPrefix+"/generate", bytes.NewReader(data)))
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}

func uploadMaterial(t *testing.T, env *testEnv, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/upload-voice-material", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	return rr
}

func TestMaterials_UploadPreviewAndClone(t *testing.T) {
	env := newTestEnv(t, true)

	wav := audiotest.WriteWAV(t, filepath.Join(env.dir, "upload.wav"), 4)
	content, err := os.ReadFile(wav)
	require.NoError(t, err)

	rr := uploadMaterial(t, env, "my voice.wav", content)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var data struct {
		MaterialID string `json:"materialId"`
		PreviewURL string `json:"previewUrl"`
		FileExt    string `json:"fileExt"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &data))
	assert.Regexp(t, `^clone_[0-9a-f]{12}$`, data.MaterialID)
	assert.Equal(t, "wav", data.FileExt)

	rr = env.do(t, http.MethodGet, data.PreviewURL, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, content, rr.Body.Bytes())

	rr = env.do(t, http.MethodPost, APIPrefix+"/generate-with-clone", map[string]string{
		"text":       "clone me",
		"materialId": data.MaterialID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var audioData audioResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &audioData))
	assert.True(t, strings.HasPrefix(audioData.FilePath, "cloned/zh-cn/"), audioData.FilePath)
}

func TestMaterials_Rejections(t *testing.T) {
	env := newTestEnv(t, true)

	rr := uploadMaterial(t, env, "voice.ogg", []byte("OggS"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, APIPrefix+"/preview-material?materialId=clone_000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, APIPrefix+"/preview-material", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, APIPrefix+"/generate-with-clone", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, APIPrefix+"/generate-with-clone", map[string]string{"text": "hi", "materialId": "clone_000000000000"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// A material that is too small to clone from is rejected by validation.
	rr = uploadMaterial(t, env, "tiny.wav", make([]byte, 50))
	require.Equal(t, http.StatusOK, rr.Code)
	var data struct {
		MaterialID string `json:"materialId"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &data))

	rr = env.do(t, http.MethodPost, APIPrefix+"/generate-with-clone", map[string]string{"text": "hi", "materialId": data.MaterialID})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeEnvelope(t, rr).Message, "bytes")
}

func TestGetAudio_Containment(t *testing.T) {
	env := newTestEnv(t, true)

	out := env.svc.OutputDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "generated"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "generated", "notes.txt"), []byte("x"), 0o644))

	secret := filepath.Join(env.dir, "secret.wav")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing param", "", http.StatusBadRequest},
		{"traversal", "../secret.wav", http.StatusForbidden},
		{"absolute outside", secret, http.StatusForbidden},
		{"missing file", "generated/none.wav", http.StatusNotFound},
		{"not wav", "generated/notes.txt", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := APIPrefix + "/get-audio"
			if tt.path != "" {
				target += "?file_path=" + url.QueryEscape(tt.path)
			}
			rr := env.do(t, http.MethodGet, target, nil)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestCatalogueAndStatus(t *testing.T) {
	env := newTestEnv(t, true)

	rr := env.do(t, http.MethodGet, APIPrefix+"/speakers", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"speakerNames":["female_01"]`)
	assert.NotContains(t, rr.Body.String(), env.dir)

	rr = env.do(t, http.MethodGet, APIPrefix+"/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "xtts_v2")

	rr = env.do(t, http.MethodGet, APIPrefix+"/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"initialized":true`)

	rr = env.do(t, http.MethodGet, APIPrefix+"/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var st synthesis.Status
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &st))
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 2, st.WorkerCount)
	assert.Equal(t, 50, st.MaxTextLength)
	assert.True(t, st.EngineSerialized)
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, true)

	router := NewRouter(RouterConfig{}, env.svc, env.materials, zerolog.Nop())
	router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHealth_NotReadyWhileDraining(t *testing.T) {
	env := newTestEnv(t, true)
	release := make(chan struct{})
	env.engine.block = release

	fut, err := env.svc.SubmitSynthesis(synthesis.SynthesisRequest{Text: "hi", SpeakerID: "female_01"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.svc.Status().InFlight == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- env.svc.Shutdown(5 * time.Second) }()
	require.Eventually(t, func() bool { return env.svc.Status().State == "draining" }, time.Second, 5*time.Millisecond)

	rr := env.do(t, http.MethodGet, APIPrefix+"/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"initialized":true`)
	assert.Contains(t, rr.Body.String(), `"state":"draining"`)

	close(release)
	require.NoError(t, <-done)

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, res.OutputPath)
}
