// Package materials stores uploaded reference audio used for voice cloning.
package materials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
)

var (
	ErrNotFound          = errors.New("voice material not found")
	ErrInvalidID         = errors.New("invalid voice material id")
	ErrUnsupportedFormat = errors.New("voice material must be WAV or MP3")
	ErrTooLarge          = errors.New("voice material exceeds size limit")
	ErrEmpty             = errors.New("voice material is empty")
)

const idPrefix = "clone_"

var idPattern = regexp.MustCompile(`^clone_[0-9a-f]{12}$`)

// Material is a stored upload.
type Material struct {
	ID        string       `json:"materialId"`
	Path      string       `json:"-"`
	Format    audio.Format `json:"format"`
	SizeBytes int64        `json:"sizeBytes"`
}

// Store keeps materials as <dir>/<id>.<ext>.
type Store struct {
	dir      string
	maxBytes int64
	logger   zerolog.Logger
}

// New creates dir if needed.
func New(dir string, maxBytes int64, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create material directory %s: %w", dir, err)
	}

	return &Store{dir: dir, maxBytes: maxBytes, logger: logger}, nil
}

// MaxBytes is the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save copies r into a new material. The format comes from filename's
// extension. Partial files are removed on error.
func (s *Store) Save(filename string, r io.Reader) (Material, error) {
	format, ok := audio.FormatFromPath(filename)
	if !ok {
		return Material{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	id := idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	path := filepath.Join(s.dir, id+"."+string(format))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Material{}, fmt.Errorf("failed to create material file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write material: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to write material: %w", closeErr)
	case n > s.maxBytes:
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	case n == 0:
		err = ErrEmpty
	}
	if err != nil {
		_ = os.Remove(path)
		return Material{}, err
	}

	s.logger.Info().
		Str("material_id", id).
		Str("original_name", filepath.Base(filename)).
		Int64("size_bytes", n).
		Msg("Voice material saved")

	return Material{ID: id, Path: path, Format: format, SizeBytes: n}, nil
}

// Resolve finds the stored file for id.
func (s *Store) Resolve(id string) (Material, error) {
	if !idPattern.MatchString(id) {
		return Material{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	for _, format := range []audio.Format{audio.FormatWAV, audio.FormatMP3} {
		path := filepath.Join(s.dir, id+"."+string(format))

		stat, err := os.Stat(path)
		if err != nil || stat.IsDir() {
			continue
		}

		return Material{ID: id, Path: path, Format: format, SizeBytes: stat.Size()}, nil
	}

	return Material{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
