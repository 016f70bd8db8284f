// Package audiotest writes audio fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate of generated fixtures. 16-bit mono, so one second is 32000 bytes.
const SampleRate = 16000

// WriteWAV writes a 16-bit mono sine tone of the given length to path.
func WriteWAV(tb testing.TB, path string, seconds float64) string {
	tb.Helper()
	return write(tb, path, 0, seconds, 0.3)
}

// WriteSilentWAV writes a 16-bit mono WAV of zero samples.
func WriteSilentWAV(tb testing.TB, path string, seconds float64) string {
	tb.Helper()
	return write(tb, path, 0, seconds, 0)
}

// WriteDelayedWAV writes silence followed by a sine tone.
func WriteDelayedWAV(tb testing.TB, path string, silentSeconds, toneSeconds float64) string {
	tb.Helper()
	return write(tb, path, silentSeconds, toneSeconds, 0.3)
}

// WriteBytes writes raw bytes, for files that are not meant to decode.
func WriteBytes(tb testing.TB, path string, size int) string {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}

// WriteSparse creates a file of the given size without writing its content.
func WriteSparse(tb testing.TB, path string, size int64) string {
	tb.Helper()

	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		tb.Fatalf("truncate %s: %v", path, err)
	}

	return path
}

func write(tb testing.TB, path string, silentSeconds, seconds, amplitude float64) string {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	lead := int(silentSeconds * SampleRate)
	data := make([]int, lead+int(seconds*SampleRate))
	for i := lead; i < len(data); i++ {
		data[i] = int(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		tb.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		tb.Fatalf("close encoder %s: %v", path, err)
	}

	return path
}
