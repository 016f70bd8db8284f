package synthesis

import (
	"context"
	"sync"
	"time"
)

// Kind distinguishes plain synthesis from voice cloning.
type Kind string

const (
	PlainSynthesis  Kind = "synthesis"
	ClonedSynthesis Kind = "clone"
)

// outputDir is the top-level output partition for the kind.
func (k Kind) outputDir() string {
	if k == ClonedSynthesis {
		return "cloned"
	}
	return "generated"
}

// job is immutable once queued.
type job struct {
	id             string
	kind           Kind
	text           string
	language       string
	speakerID      string
	referenceAudio string
	model          string
	submittedAt    time.Time
	future         *Future
}

// Result is the outcome of a job. Exactly one of OutputPath and Failure is set.
type Result struct {
	JobID    string
	Kind     Kind
	Language string

	OutputPath string
	SizeBytes  int64
	// DurationMs is the audio length, zero when it could not be probed.
	DurationMs int64
	// ElapsedMs is the time from dequeue to verified output.
	ElapsedMs int64

	Failure error
}

// OK reports whether the job produced audio.
func (r Result) OK() bool {
	return r.Failure == nil
}

func succeeded(j *job, path string, size, durationMs, elapsedMs int64) Result {
	return Result{
		JobID:      j.id,
		Kind:       j.kind,
		Language:   j.language,
		OutputPath: path,
		SizeBytes:  size,
		DurationMs: durationMs,
		ElapsedMs:  elapsedMs,
	}
}

func failed(j *job, err error) Result {
	if err == nil {
		err = ErrOutputMissing
	}
	return Result{
		JobID:    j.id,
		Kind:     j.kind,
		Language: j.language,
		Failure:  err,
	}
}

// Future is resolved exactly once by the worker that ran the job.
type Future struct {
	jobID  string
	kind   Kind
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture(jobID string, kind Kind) *Future {
	return &Future{jobID: jobID, kind: kind, done: make(chan struct{})}
}

// JobID correlates the future with logs and events.
func (f *Future) JobID() string {
	return f.jobID
}

// Kind of the job behind this future.
func (f *Future) Kind() Kind {
	return f.kind
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job resolves or ctx is done. The returned error is
// the job's failure, or ctx.Err() when ctx ended first.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.result.Failure
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome without blocking.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}
