package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to 16-bit stereo.
const mp3BytesPerFrame = 4

// RMSWindow is how much leading audio a WAV probe reads to measure level.
const RMSWindow = 10 * time.Second

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidWAV        = errors.New("invalid wav file")
)

// Info is what a probe could learn about an audio file.
type Info struct {
	Format     Format
	Duration   time.Duration
	SampleRate int
	Channels   int
	// RMS is normalized to [0, 1] over the first RMSWindow of audio; only
	// set for WAV input.
	RMS    float64
	HasRMS bool
}

// Prober inspects an audio file without modifying it.
type Prober interface {
	Probe(path string) (Info, error)
}

// FileProber decodes WAV and MP3 headers from disk.
type FileProber struct{}

// Probe reads duration and basic stream facts for path.
func (FileProber) Probe(path string) (Info, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if format == FormatMP3 {
		return probeMP3(f)
	}

	return probeWAV(f)
}

func probeWAV(f *os.File) (Info, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	info := Info{
		Format:     FormatWAV,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return info, ErrInvalidWAV
	}

	if err := dec.FwdToPCM(); err != nil {
		return info, fmt.Errorf("failed to find wav samples: %w", err)
	}

	// Exact when the data chunk size is known; the header estimate otherwise.
	frameBytes := int64(info.Channels) * int64((dec.BitDepth+7)/8)
	if pcm := dec.PCMLen(); pcm > 0 && frameBytes > 0 {
		info.Duration = time.Duration(pcm/frameBytes) * time.Second / time.Duration(info.SampleRate)
	} else {
		d, err := dec.Duration()
		if err != nil {
			return info, fmt.Errorf("failed to read wav duration: %w", err)
		}
		info.Duration = d
	}

	// Level is measured on a bounded prefix so probing stays cheap.
	window := int(RMSWindow/time.Second) * info.SampleRate * info.Channels
	buf := &goaudio.IntBuffer{Data: make([]int, window)}
	n, err := dec.PCMBuffer(buf)
	if err != nil {
		return info, fmt.Errorf("failed to read wav samples: %w", err)
	}

	info.RMS = NormalizedRMS(buf.Data[:n], int(dec.BitDepth))
	info.HasRMS = true

	return info, nil
}

func probeMP3(f *os.File) (Info, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode mp3: %w", err)
	}

	info := Info{
		Format:     FormatMP3,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}

	length := dec.Length()
	if length <= 0 || info.SampleRate <= 0 {
		return info, errors.New("mp3 length unavailable")
	}

	frames := length / mp3BytesPerFrame
	info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)

	return info, nil
}
