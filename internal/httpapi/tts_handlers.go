package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
	"github.com/lexiqai/synthesis-gateway/internal/materials"
	"github.com/lexiqai/synthesis-gateway/internal/synthesis"
	"github.com/lexiqai/synthesis-gateway/internal/validation"
)

const maxJSONBody = 1 << 20

type generateRequest struct {
	Text      string `json:"text"`
	SpeakerID string `json:"speakerId"`
	Language  string `json:"language"`
	Model     string `json:"model"`
}

type cloneRequest struct {
	Text       string `json:"text"`
	MaterialID string `json:"materialId"`
	Language   string `json:"language"`
	Model      string `json:"model"`
}

type audioResponse struct {
	JobID      string `json:"jobId"`
	FilePath   string `json:"filePath"`
	FileName   string `json:"fileName"`
	AudioURL   string `json:"audioUrl"`
	SizeBytes  int64  `json:"sizeBytes"`
	DurationMs int64  `json:"durationMs"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBody))
	return dec.Decode(v)
}

func (r *Router) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	fut, err := r.svc.SubmitSynthesis(synthesis.SynthesisRequest{
		Text:      body.Text,
		Language:  body.Language,
		SpeakerID: body.SpeakerID,
		Model:     body.Model,
	})
	if err != nil {
		r.writeSubmitError(w, req, err)
		return
	}

	r.awaitAudio(w, req, fut, "speech generated")
}

func (r *Router) handleGenerateWithClone(w http.ResponseWriter, req *http.Request) {
	var body cloneRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(body.MaterialID) == "" {
		writeError(w, http.StatusBadRequest, "materialId is required")
		return
	}

	material, err := r.materials.Resolve(body.MaterialID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	language := body.Language
	if language == "" {
		language = r.cfg.DefaultLanguage
	}

	fut, err := r.svc.SubmitClone(synthesis.CloneRequest{
		Text:           body.Text,
		ReferenceAudio: material.Path,
		Language:       language,
		Model:          body.Model,
	})
	if err != nil {
		r.writeSubmitError(w, req, err)
		return
	}

	r.awaitAudio(w, req, fut, "cloned speech generated")
}

func (r *Router) writeSubmitError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case validation.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, synthesis.ErrServiceNotInitialized), errors.Is(err, synthesis.ErrServiceShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		zerolog.Ctx(req.Context()).Error().Err(err).Msg("Submission failed")
		writeError(w, http.StatusInternalServerError, synthesis.GenericEngineMessage)
	}
}

// awaitAudio waits for fut and writes the result. The job keeps running if
// the client goes away.
func (r *Router) awaitAudio(w http.ResponseWriter, req *http.Request, fut *synthesis.Future, message string) {
	ctx := req.Context()
	if r.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.WaitTimeout)
		defer cancel()
	}

	logger := zerolog.Ctx(req.Context()).With().Str("job_id", fut.JobID()).Logger()

	res, err := fut.Wait(ctx)
	switch {
	case err == nil:
	case res.JobID == "":
		// The wait ended before the job resolved.
		logger.Warn().Err(err).Msg("Gave up waiting for job")
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for synthesis")
		return
	case errors.Is(err, synthesis.ErrServiceShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, synthesis.GenericEngineMessage)
		return
	}

	rel, relErr := filepath.Rel(r.svc.OutputDir(), res.OutputPath)
	if relErr != nil {
		rel = res.OutputPath
	}
	rel = filepath.ToSlash(rel)

	writeOK(w, audioResponse{
		JobID:      res.JobID,
		FilePath:   rel,
		FileName:   filepath.Base(res.OutputPath),
		AudioURL:   r.publicURL(APIPrefix + "/get-audio?file_path=" + url.QueryEscape(rel)),
		SizeBytes:  res.SizeBytes,
		DurationMs: res.DurationMs,
		ElapsedMs:  res.ElapsedMs,
	}, message)
}

func (r *Router) publicURL(path string) string {
	return strings.TrimRight(r.cfg.PublicBaseURL, "/") + path
}

// handleGetAudio serves a generated WAV. Paths are taken relative to the
// output directory and must stay inside it.
func (r *Router) handleGetAudio(w http.ResponseWriter, req *http.Request) {
	requested := req.URL.Query().Get("file_path")
	if requested == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	path, ok := containedPath(r.svc.OutputDir(), requested)
	if !ok {
		writeError(w, http.StatusForbidden, "access to this path is not allowed")
		return
	}

	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		writeError(w, http.StatusNotFound, "audio file not found: "+requested)
		return
	}

	if !strings.EqualFold(filepath.Ext(path), audio.OutputExtension) {
		writeError(w, http.StatusBadRequest, "only WAV audio can be fetched")
		return
	}

	serveFile(w, req, path, audio.ContentTypeWAV, "attachment")
}

// containedPath resolves requested against root and reports whether the
// result lies inside root.
func containedPath(root, requested string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}

	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(absRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	// Symlinks inside the root must not lead out of it.
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		realRoot, rootErr := filepath.EvalSymlinks(absRoot)
		if rootErr != nil {
			return "", false
		}
		rel, err = filepath.Rel(realRoot, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
	}

	return path, true
}

func serveFile(w http.ResponseWriter, req *http.Request, path, contentType, disposition string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition+`; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, req, filepath.Base(path), stat.ModTime(), f)
}

type speakerView struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
}

func (r *Router) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	profiles := r.svc.Speakers()

	views := make([]speakerView, 0, len(profiles))
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, speakerView{Name: p.Name, Language: p.Language, Description: p.Description})
		names = append(names, p.Name)
	}

	writeOK(w, map[string]any{
		"speakers":     views,
		"speakerNames": names,
	}, "speakers listed")
}

func (r *Router) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"models": r.svc.Models()}, "models listed")
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := r.svc.Status()
	accepting := st.Initialized && st.State == synthesis.PhaseRunning

	data := map[string]any{
		"initialized": st.Initialized,
		"state":       st.State,
		"componentsReady": map[string]bool{
			"engine":     st.Initialized,
			"workerPool": accepting && st.WorkerCount > 0,
			"materials":  r.materials != nil,
		},
	}

	if !accepting {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Data: data, Message: "synthesis service is not ready"})
		return
	}

	writeOK(w, data, "synthesis service is ready")
}

func (r *Router) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, r.svc.Status(), "status retrieved")
}

func (r *Router) handleUploadMaterial(w http.ResponseWriter, req *http.Request) {
	logger := zerolog.Ctx(req.Context())

	// Leave room for multipart framing around the file itself.
	req.Body = http.MaxBytesReader(w, req.Body, r.materials.MaxBytes()+maxJSONBody)

	file, header, err := req.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, materials.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	m, err := r.materials.Save(header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, materials.ErrUnsupportedFormat),
		errors.Is(err, materials.ErrTooLarge),
		errors.Is(err, materials.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.Error().Err(err).Str("filename", header.Filename).Msg("Failed to save voice material")
		writeError(w, http.StatusInternalServerError, "failed to save voice material")
		return
	}

	writeOK(w, map[string]any{
		"materialId": m.ID,
		"previewUrl": r.publicURL(APIPrefix + "/preview-material?materialId=" + m.ID),
		"fileExt":    string(m.Format),
		"sizeBytes":  m.SizeBytes,
	}, "voice material uploaded")
}

func (r *Router) handlePreviewMaterial(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	id := q.Get("materialId")
	if id == "" {
		id = q.Get("material_id")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "materialId is required")
		return
	}

	m, err := r.materials.Resolve(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	serveFile(w, req, m.Path, m.Format.ContentType(), "inline")
}
