package synthesis

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
)

// MinOutputBytes is the smallest file accepted as real engine output.
const MinOutputBytes = 100

const (
	outputPrefix      = "xtts2"
	tokenLength       = 8
	reserveMaxAttempt = 5
)

// reserveOutputPath creates an empty file under
// root/<kind>/<lang>/<YYYYMMDD>/ with a unique name and returns its path.
// The exclusive create guarantees an existing file is never reused.
func reserveOutputPath(root string, kind Kind, lang string, now time.Time) (string, error) {
	dir := filepath.Join(root, kind.outputDir(), lang, now.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	for attempt := 0; attempt < reserveMaxAttempt; attempt++ {
		token := strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
		name := fmt.Sprintf("%s_%s_%s_%s%s", outputPrefix, lang, now.Format("150405"), token, audio.OutputExtension)
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to reserve output file: %w", err)
		}

		if closeErr := f.Close(); closeErr != nil {
			return "", fmt.Errorf("failed to reserve output file: %w", closeErr)
		}

		return path, nil
	}

	return "", fmt.Errorf("failed to find a free output name in %s", dir)
}

// verifyOutput checks the engine left a plausible file at path.
func verifyOutput(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrOutputMissing, path)
	}

	if stat.Size() < MinOutputBytes {
		return stat.Size(), fmt.Errorf("%w: %d bytes", ErrOutputTooSmall, stat.Size())
	}

	return stat.Size(), nil
}
