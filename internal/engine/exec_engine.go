package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const maxCommandOutput = 2048

// ExecOptions configures an ExecEngine.
type ExecOptions struct {
	// Binary is the synthesis CLI, resolved through PATH.
	Binary string
	Model  string
	// Device "cuda" adds --use_cuda true.
	Device string
	Logger zerolog.Logger
}

// ExecEngine runs a Coqui-style `tts` command line per call.
type ExecEngine struct {
	opts   ExecOptions
	path   string
	loaded atomic.Bool
}

// NewExecEngine creates an engine that shells out to opts.Binary.
func NewExecEngine(opts ExecOptions) *ExecEngine {
	return &ExecEngine{opts: opts}
}

func (e *ExecEngine) Name() string {
	return "exec"
}

// Load resolves the binary.
func (e *ExecEngine) Load(_ context.Context) error {
	path, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		return fmt.Errorf("engine binary %q not found: %w", e.opts.Binary, err)
	}

	e.path = path
	e.loaded.Store(true)

	e.opts.Logger.Info().Str("binary", path).Str("model", e.opts.Model).Msg("Exec engine ready")

	return nil
}

func (e *ExecEngine) Synthesize(ctx context.Context, req Request) error {
	if err := checkRequest(req, false); err != nil {
		return err
	}
	return e.run(ctx, req)
}

func (e *ExecEngine) Clone(ctx context.Context, req Request) error {
	if err := checkRequest(req, true); err != nil {
		return err
	}
	return e.run(ctx, req)
}

func (e *ExecEngine) args(req Request) []string {
	model := req.Model
	if model == "" {
		model = e.opts.Model
	}

	args := []string{
		"--text", req.Text,
		"--model_name", model,
		"--language_idx", req.Language,
		"--out_path", req.OutputPath,
	}
	if req.ReferenceAudio != "" {
		args = append(args, "--speaker_wav", req.ReferenceAudio)
	}
	if strings.EqualFold(e.opts.Device, "cuda") {
		args = append(args, "--use_cuda", "true")
	}

	return args
}

func (e *ExecEngine) run(ctx context.Context, req Request) error {
	if !e.loaded.Load() {
		return ErrNotLoaded
	}

	cmd := exec.CommandContext(ctx, e.path, e.args(req)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("engine command failed: %w: %s", err, tail(output, maxCommandOutput))
	}

	return nil
}

// Healthy checks the binary is still resolvable.
func (e *ExecEngine) Healthy(_ context.Context) error {
	if _, err := exec.LookPath(e.opts.Binary); err != nil {
		return fmt.Errorf("engine binary %q not found: %w", e.opts.Binary, err)
	}
	return nil
}

func (e *ExecEngine) Close() error {
	e.loaded.Store(false)
	return nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
