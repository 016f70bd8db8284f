// Package engine adapts external speech synthesis engines.
//
// An Engine is loaded once per process and writes one WAV file per call.
// Implementations make no promise of being safe for concurrent calls; the
// synthesis package decides how calls are serialized.
package engine

import (
	"context"
	"errors"
)

var (
	ErrNotLoaded       = errors.New("engine not loaded")
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrMissingOutput   = errors.New("output path is required")
	ErrMissingRefAudio = errors.New("reference audio is required for cloning")
)

// Request is one synthesis call. The engine writes audio to OutputPath.
type Request struct {
	Text           string
	Language       string
	ReferenceAudio string
	OutputPath     string
	Model          string
}

// Engine is the synthesis capability behind the orchestrator.
type Engine interface {
	// Name identifies the backend in logs and status.
	Name() string
	// Load prepares the engine. Called at most once per process.
	Load(ctx context.Context) error
	// Synthesize produces speech in the engine's default or the given voice.
	Synthesize(ctx context.Context, req Request) error
	// Clone produces speech conditioned on req.ReferenceAudio.
	Clone(ctx context.Context, req Request) error
	// Healthy reports whether the engine can currently serve calls.
	Healthy(ctx context.Context) error
	// Close releases the engine.
	Close() error
}

func checkRequest(req Request, clone bool) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	if req.OutputPath == "" {
		return ErrMissingOutput
	}
	if clone && req.ReferenceAudio == "" {
		return ErrMissingRefAudio
	}
	return nil
}
