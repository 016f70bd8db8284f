package audio

import (
	"path/filepath"
	"strings"
)

// Format is an admissible reference or output audio container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Extensions lists the admissible file extensions, dot included.
var Extensions = []string{".wav", ".mp3"}

// Output format written by the engine.
const (
	OutputExtension = ".wav"
	ContentTypeWAV  = "audio/wav"
	ContentTypeMP3  = "audio/mpeg"
)

// FormatFromPath maps a file name to its admissible format.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV, true
	case ".mp3":
		return FormatMP3, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type served for a format.
func (f Format) ContentType() string {
	if f == FormatMP3 {
		return ContentTypeMP3
	}
	return ContentTypeWAV
}
