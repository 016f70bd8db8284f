// Package synthesis owns the synthesis engine and runs every job against it.
//
// A Service is constructed once per process and handed to its consumers.
// Submissions are validated on the caller's goroutine, then queued for a
// fixed pool of workers; the caller gets a Future and never waits on the
// engine. When EngineSerialized is set (the default) one process-wide lock
// is held around each engine call, so at most one call runs at a time
// whatever the pool size.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
	"github.com/lexiqai/synthesis-gateway/internal/engine"
	"github.com/lexiqai/synthesis-gateway/internal/observability"
	"github.com/lexiqai/synthesis-gateway/internal/speakers"
	"github.com/lexiqai/synthesis-gateway/internal/validation"
)

const (
	defaultWorkers       = 4
	defaultEngineTimeout = 2 * time.Minute
	defaultStartup       = 5 * time.Minute
	shutdownGrace        = 5 * time.Second
	publishTimeout       = 30 * time.Second
)

const (
	stateNew int32 = iota
	stateStarting
	stateRunning
	stateDraining
	stateStopped
)

// PhaseRunning is Status.State while the service accepts jobs.
const PhaseRunning = "running"

var stateNames = map[int32]string{
	stateNew:      "new",
	stateStarting: "starting",
	stateRunning:  PhaseRunning,
	stateDraining: "draining",
	stateStopped:  "stopped",
}

// Publisher receives every successful result after its future resolves.
type Publisher interface {
	Publish(ctx context.Context, res Result) error
}

// Options is read once by New.
type Options struct {
	Workers            int
	MaxTextLength      int
	SupportedLanguages []string
	Models             []string
	OutputDir          string
	EngineSerialized   bool
	DefaultSpeaker     string
	EngineTimeout      time.Duration
	StartupTimeout     time.Duration
	// Prober probes reference and output audio. Nil disables probing.
	Prober audio.Prober
	// Publisher is optional.
	Publisher Publisher
}

// SynthesisRequest is a plain synthesis submission.
type SynthesisRequest struct {
	Text      string
	Language  string
	SpeakerID string
	Model     string
}

// CloneRequest is a voice cloning submission.
type CloneRequest struct {
	Text           string
	ReferenceAudio string
	Language       string
	Model          string
}

// Status is a point-in-time snapshot. Reading it never waits on jobs.
type Status struct {
	Initialized        bool     `json:"initialized"`
	State              string   `json:"state"`
	SupportedLanguages []string `json:"supportedLanguages"`
	WorkerCount        int      `json:"workerCount"`
	MaxTextLength      int      `json:"maxTextLength"`
	QueueDepth         int      `json:"queueDepth"`
	InFlight           int      `json:"inFlight"`
	EngineSerialized   bool     `json:"engineSerialized"`
	Engine             string   `json:"engine"`
	Model              string   `json:"model,omitempty"`
	Speakers           int      `json:"speakers"`
}

// Service is the job orchestrator.
type Service struct {
	opts      Options
	engine    engine.Engine
	speakers  *speakers.Registry
	validator *validation.Validator
	logger    zerolog.Logger
	now       func() time.Time

	lifecycle sync.Mutex
	state     atomic.Int32
	loaded    atomic.Bool
	pool      *pool
	cancel    context.CancelFunc

	// engineMu serializes engine calls when opts.EngineSerialized is set.
	engineMu sync.Mutex
}

// New builds a Service. Nothing is loaded until Start.
func New(opts Options, eng engine.Engine, registry *speakers.Registry, logger zerolog.Logger) *Service {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = defaultEngineTimeout
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartup
	}
	if registry == nil {
		registry, _ = speakers.New()
	}

	validator := validation.New(validation.Rules{
		MaxTextLength:      opts.MaxTextLength,
		SupportedLanguages: opts.SupportedLanguages,
		Models:             opts.Models,
	}, opts.Prober)
	opts.MaxTextLength = validator.MaxTextLength()

	return &Service{
		opts:      opts,
		engine:    eng,
		speakers:  registry,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// Start verifies speaker profiles, loads the engine and starts the workers.
// Calling Start on a running service is a no-op: the engine is loaded at
// most once per Service.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.state.Load() {
	case stateRunning:
		return nil
	case stateDraining, stateStopped:
		return ErrServiceShuttingDown
	}

	s.state.Store(stateStarting)

	if err := s.prepare(ctx); err != nil {
		s.state.Store(stateNew)
		s.logger.Error().Err(err).Msg("Synthesis service failed to start")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pool = newPool(s.opts.Workers, s.execute)
	s.pool.start(runCtx)

	s.state.Store(stateRunning)

	s.logger.Info().
		Str("engine", s.engine.Name()).
		Int("workers", s.opts.Workers).
		Bool("engine_serialized", s.opts.EngineSerialized).
		Int("speakers", s.speakers.Len()).
		Strs("languages", s.validator.SupportedLanguages()).
		Msg("Synthesis service started")

	return nil
}

func (s *Service) prepare(ctx context.Context) error {
	err := s.speakers.Verify(s.validator, func(name string, warnings []string) {
		s.logger.Warn().Str("speaker", name).Strs("warnings", warnings).Msg("Speaker reference audio advisory")
	})
	if err != nil {
		var pErr *speakers.ProfileError
		if errors.As(err, &pErr) {
			return &ConfigurationError{Component: "speakers", Speaker: pErr.Speaker, Err: pErr.Err}
		}
		return &ConfigurationError{Component: "speakers", Err: err}
	}

	if name := s.opts.DefaultSpeaker; name != "" {
		if _, ok := s.speakers.Lookup(name); !ok {
			return &ConfigurationError{Component: "speakers", Speaker: name, Err: validation.ErrUnknownSpeaker}
		}
	}

	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return &ConfigurationError{Component: "output", Err: err}
	}

	if !s.loaded.Load() {
		loadCtx, cancel := context.WithTimeout(ctx, s.opts.StartupTimeout)
		defer cancel()

		if err := s.engine.Load(loadCtx); err != nil {
			return &ConfigurationError{Component: "engine", Err: err}
		}
		s.loaded.Store(true)
	}

	return nil
}

func (s *Service) accepting() error {
	switch s.state.Load() {
	case stateRunning:
		return nil
	case stateDraining, stateStopped:
		return ErrServiceShuttingDown
	default:
		return ErrServiceNotInitialized
	}
}

// SubmitSynthesis validates a plain synthesis request and queues it. An
// empty SpeakerID falls back to the default speaker; an empty Language
// falls back to the speaker's language.
func (s *Service) SubmitSynthesis(req SynthesisRequest) (*Future, error) {
	if err := s.accepting(); err != nil {
		return nil, err
	}

	speakerID := req.SpeakerID
	if speakerID == "" {
		speakerID = s.opts.DefaultSpeaker
	}

	language := req.Language
	if language == "" && speakerID != "" {
		if p, ok := s.speakers.Lookup(speakerID); ok {
			language = p.Language
		}
	}

	plain, err := s.validator.ValidatePlain(validation.PlainInput{
		Text:      req.Text,
		Language:  language,
		SpeakerID: speakerID,
		Model:     req.Model,
	}, s.speakers)
	if err != nil {
		return nil, s.rejected(PlainSynthesis, err)
	}

	return s.enqueue(&job{
		kind:           PlainSynthesis,
		text:           plain.Text,
		language:       plain.Language,
		speakerID:      plain.SpeakerID,
		referenceAudio: plain.ReferenceAudio,
		model:          plain.Model,
	})
}

// SubmitClone validates a cloning request, including the reference audio,
// and queues it.
func (s *Service) SubmitClone(req CloneRequest) (*Future, error) {
	if err := s.accepting(); err != nil {
		return nil, err
	}

	clone, err := s.validator.ValidateClone(validation.CloneInput{
		Text:           req.Text,
		ReferenceAudio: req.ReferenceAudio,
		Language:       req.Language,
		Model:          req.Model,
	})
	if err != nil {
		return nil, s.rejected(ClonedSynthesis, err)
	}

	if len(clone.Reference.Warnings) > 0 {
		s.logger.Warn().
			Str("reference", clone.Reference.Path).
			Strs("warnings", clone.Reference.Warnings).
			Msg("Reference audio advisory")
	}

	return s.enqueue(&job{
		kind:           ClonedSynthesis,
		text:           clone.Text,
		language:       clone.Language,
		referenceAudio: clone.Reference.Path,
		model:          clone.Model,
	})
}

func (s *Service) rejected(kind Kind, err error) error {
	observability.RecordValidationRejection(validation.FieldOf(err))
	s.logger.Debug().Err(err).Str("kind", string(kind)).Msg("Submission rejected")
	return err
}

func (s *Service) enqueue(j *job) (*Future, error) {
	j.id = uuid.NewString()
	j.submittedAt = s.now()
	j.future = newFuture(j.id, j.kind)

	if !s.pool.enqueue(j) {
		return nil, ErrServiceShuttingDown
	}

	observability.RecordJobSubmitted(string(j.kind))

	s.logger.Info().
		Str("job_id", j.id).
		Str("kind", string(j.kind)).
		Str("language", j.language).
		Str("speaker", j.speakerID).
		Int("text_length", len([]rune(j.text))).
		Msg("Job queued")

	return j.future, nil
}

// execute runs on a worker goroutine.
func (s *Service) execute(ctx context.Context, j *job) {
	m := observability.NewJobMetrics(string(j.kind))
	res := s.run(ctx, j)
	m.RecordEnd(res.OK())

	j.future.resolve(res)

	if res.OK() && s.opts.Publisher != nil {
		s.publish(ctx, res)
	}
}

// publish hands a finished result to the publisher. Its failures, panics
// included, never reach the job.
func (s *Service) publish(ctx context.Context, res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("job_id", res.JobID).Msg("Publisher panicked")
		}
	}()

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.opts.Publisher.Publish(pubCtx, res); err != nil {
		s.logger.Warn().Err(err).Str("job_id", res.JobID).Msg("Failed to publish result")
	}
}

func (s *Service) run(ctx context.Context, j *job) (res Result) {
	start := s.now()
	logger := s.logger.With().Str("job_id", j.id).Str("kind", string(j.kind)).Str("language", j.language).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Job panicked")
			res = failed(j, &EngineFailure{JobID: j.id, Kind: j.kind, Cause: fmt.Errorf("panic: %v", r)})
		}
	}()

	out, err := reserveOutputPath(s.opts.OutputDir, j.kind, j.language, start)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reserve output path")
		return failed(j, &EngineFailure{JobID: j.id, Kind: j.kind, Cause: err})
	}

	req := engine.Request{
		Text:           j.text,
		Language:       j.language,
		ReferenceAudio: j.referenceAudio,
		OutputPath:     out,
		Model:          j.model,
	}

	if err := s.invoke(ctx, j.kind, req); err != nil {
		logger.Error().Err(err).Str("output", out).Msg("Engine call failed")
		return failed(j, &EngineFailure{JobID: j.id, Kind: j.kind, Cause: err})
	}

	size, err := verifyOutput(out)
	if err != nil {
		logger.Error().Err(err).Str("output", out).Msg("Engine output rejected")
		return failed(j, &EngineFailure{JobID: j.id, Kind: j.kind, Cause: err})
	}

	var durationMs int64
	if s.opts.Prober != nil {
		if info, probeErr := s.opts.Prober.Probe(out); probeErr == nil {
			durationMs = info.Duration.Milliseconds()
		}
	}

	elapsed := s.now().Sub(start)

	logger.Info().
		Str("output", out).
		Int64("size_bytes", size).
		Int64("audio_ms", durationMs).
		Dur("elapsed", elapsed).
		Dur("queued_for", start.Sub(j.submittedAt)).
		Msg("Job completed")

	return succeeded(j, out, size, durationMs, elapsed.Milliseconds())
}

// invoke is the only call path into the engine.
func (s *Service) invoke(ctx context.Context, kind Kind, req engine.Request) error {
	if s.opts.EngineSerialized {
		s.engineMu.Lock()
		defer s.engineMu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.EngineTimeout)
	defer cancel()

	if kind == ClonedSynthesis {
		return s.engine.Clone(callCtx, req)
	}
	return s.engine.Synthesize(callCtx, req)
}

// Shutdown stops intake, waits up to drainTimeout for queued and running
// jobs, then closes the engine. Jobs still queued when the drain times out
// resolve with ErrServiceShuttingDown and running calls are cancelled.
// Safe to call more than once, and before or without Start.
func (s *Service) Shutdown(drainTimeout time.Duration) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.state.Load() == stateStopped {
		return nil
	}
	s.state.Store(stateDraining)

	var drainErr error
	if s.pool != nil {
		s.logger.Info().
			Int("queued", s.pool.depth()).
			Int("in_flight", s.pool.running()).
			Dur("drain_timeout", drainTimeout).
			Msg("Draining synthesis jobs")

		s.pool.close()

		if !s.pool.wait(drainTimeout) {
			abandoned := s.pool.abandon()
			for _, j := range abandoned {
				observability.RecordJobAbandoned(string(j.kind))
				j.future.resolve(failed(j, ErrServiceShuttingDown))
			}
			busy := s.pool.running()

			// Idle workers that had not exited yet are not a timeout.
			if len(abandoned) > 0 || busy > 0 {
				s.cancel()
				drainErr = fmt.Errorf("%w after %s (%d queued jobs abandoned, %d cancelled)", ErrDrainTimeout, drainTimeout, len(abandoned), busy)
			}

			if !s.pool.wait(shutdownGrace) {
				s.logger.Warn().Msg("Workers still running after cancellation")
			}
		}

		s.cancel()
	}

	var closeErr error
	if s.loaded.Load() {
		closeErr = s.engine.Close()
		s.loaded.Store(false)
	}

	s.state.Store(stateStopped)

	s.logger.Info().Err(errors.Join(drainErr, closeErr)).Msg("Synthesis service stopped")

	return errors.Join(drainErr, closeErr)
}

// Status returns a snapshot built from atomics only. Initialized means the
// engine is loaded, which stays true while draining; State is the lifecycle
// phase.
func (s *Service) Status() Status {
	state := s.state.Load()

	st := Status{
		Initialized:        state >= stateRunning && s.loaded.Load(),
		State:              stateNames[state],
		SupportedLanguages: s.validator.SupportedLanguages(),
		WorkerCount:        s.opts.Workers,
		MaxTextLength:      s.opts.MaxTextLength,
		EngineSerialized:   s.opts.EngineSerialized,
		Engine:             s.engine.Name(),
		Speakers:           s.speakers.Len(),
	}
	if models := s.validator.Models(); len(models) > 0 {
		st.Model = models[0]
	}

	if state >= stateRunning {
		if p := s.pool; p != nil {
			st.QueueDepth = p.depth()
			st.InFlight = p.running()
		}
	}

	return st
}

// SupportedLanguages returns the canonical supported language codes.
func (s *Service) SupportedLanguages() []string {
	return s.validator.SupportedLanguages()
}

// Models returns the selectable model identifiers.
func (s *Service) Models() []string {
	return s.validator.Models()
}

// Speakers returns the configured speaker profiles.
func (s *Service) Speakers() []speakers.Profile {
	return s.speakers.List()
}

// OutputDir is the root of all generated audio.
func (s *Service) OutputDir() string {
	return s.opts.OutputDir
}

// EngineHealthy probes the engine without taking the engine lock.
func (s *Service) EngineHealthy(ctx context.Context) error {
	if s.state.Load() != stateRunning {
		return s.accepting()
	}
	return s.engine.Healthy(ctx)
}
