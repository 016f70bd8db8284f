// Package validation checks synthesis submissions before they are queued.
//
// Checks run in a fixed order and stop at the first failure: text, language,
// reference audio, then speaker resolution. Nothing here mutates shared
// state; the only I/O is stat and a best-effort duration probe of reference
// audio.
package validation

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
)

// Reference audio limits.
const (
	MinReferenceBytes    = 10 * 1024
	MaxReferenceBytes    = 10 * 1024 * 1024
	MinReferenceDuration = 3 * time.Second
	MaxReferenceDuration = 10 * time.Second
)

// DefaultMaxTextLength applies when Rules.MaxTextLength is unset.
const DefaultMaxTextLength = 1000

// DefaultLanguages is the canonical supported set.
var DefaultLanguages = []string{"en", "zh-cn", "es", "fr", "de", "it", "pt", "ru", "tr", "ja"}

var languageAliases = map[string]string{
	"english":    "en",
	"zh":         "zh-cn",
	"zh_cn":      "zh-cn",
	"chinese":    "zh-cn",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"russian":    "ru",
	"turkish":    "tr",
	"japanese":   "ja",
}

// Rules configures a Validator. Read once at startup.
type Rules struct {
	MaxTextLength      int
	SupportedLanguages []string
	Models             []string
}

// Reference describes admissible reference audio.
type Reference struct {
	Path      string
	Format    audio.Format
	SizeBytes int64
	// Duration is zero when probing failed.
	Duration time.Duration
	// Warnings are advisory and never cause rejection.
	Warnings []string
}

// SpeakerLookup maps a speaker identifier to its reference audio path.
type SpeakerLookup interface {
	ReferencePath(id string) (string, bool)
}

// Validator applies Rules. Safe for concurrent use.
type Validator struct {
	maxTextLength int
	languages     []string
	supported     map[string]struct{}
	models        []string
	prober        audio.Prober
}

// New builds a Validator. A nil prober disables duration probing.
func New(rules Rules, prober audio.Prober) *Validator {
	v := &Validator{
		maxTextLength: rules.MaxTextLength,
		prober:        prober,
	}
	if v.maxTextLength <= 0 {
		v.maxTextLength = DefaultMaxTextLength
	}

	langs := rules.SupportedLanguages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	v.supported = make(map[string]struct{}, len(langs))
	for _, l := range langs {
		l = NormalizeLanguage(l)
		if _, dup := v.supported[l]; dup {
			continue
		}
		v.supported[l] = struct{}{}
		v.languages = append(v.languages, l)
	}

	v.models = append(v.models, rules.Models...)

	return v
}

// MaxTextLength is the configured character limit.
func (v *Validator) MaxTextLength() int {
	return v.maxTextLength
}

// SupportedLanguages returns a copy of the supported set in configured order.
func (v *Validator) SupportedLanguages() []string {
	out := make([]string, len(v.languages))
	copy(out, v.languages)
	return out
}

// Models returns a copy of the selectable model identifiers.
func (v *Validator) Models() []string {
	out := make([]string, len(v.models))
	copy(out, v.models)
	return out
}

// Text trims text and enforces the non-empty and length rules.
func (v *Validator) Text(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", reject(FieldText, ErrEmptyText, "text must not be empty")
	}

	if n := utf8.RuneCountInString(text); n > v.maxTextLength {
		return "", reject(FieldText, ErrTextTooLong,
			fmt.Sprintf("text is %d characters long, maximum is %d", n, v.maxTextLength))
	}

	return text, nil
}

// NormalizeLanguage case-folds a language code and maps known aliases.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if canonical, ok := languageAliases[lang]; ok {
		return canonical
	}
	return lang
}

// Language normalizes lang and requires it to be supported.
func (v *Validator) Language(lang string) (string, error) {
	normalized := NormalizeLanguage(lang)
	if _, ok := v.supported[normalized]; ok {
		return normalized, nil
	}

	return "", reject(FieldLanguage, ErrUnsupportedLanguage,
		fmt.Sprintf("unsupported language %q; supported languages: %s", lang, strings.Join(v.languages, ", ")))
}

// ReferenceAudio checks existence, format and size, then probes duration.
// Duration and level findings are reported as warnings only.
func (v *Validator) ReferenceAudio(path string) (Reference, error) {
	if strings.TrimSpace(path) == "" {
		return Reference{}, reject(FieldReference, ErrReferenceMissing, "reference audio is required")
	}

	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		return Reference{}, reject(FieldReference, ErrReferenceMissing,
			fmt.Sprintf("reference audio not found: %s", path))
	}

	format, ok := audio.FormatFromPath(path)
	if !ok {
		return Reference{}, reject(FieldReference, ErrReferenceFormat,
			fmt.Sprintf("reference audio must be one of %s", strings.Join(audio.Extensions, ", ")))
	}

	size := stat.Size()
	if size < MinReferenceBytes {
		return Reference{}, reject(FieldReference, ErrReferenceTooSmall,
			fmt.Sprintf("reference audio is %d bytes, minimum is %d", size, MinReferenceBytes))
	}
	if size > MaxReferenceBytes {
		return Reference{}, reject(FieldReference, ErrReferenceTooLarge,
			fmt.Sprintf("reference audio is %d bytes, maximum is %d", size, MaxReferenceBytes))
	}

	ref := Reference{Path: path, Format: format, SizeBytes: size}
	v.probe(&ref)

	return ref, nil
}

func (v *Validator) probe(ref *Reference) {
	if v.prober == nil {
		return
	}

	info, err := v.prober.Probe(ref.Path)
	if err != nil {
		ref.Warnings = append(ref.Warnings, fmt.Sprintf("could not determine reference duration: %v", err))
		return
	}

	ref.Duration = info.Duration
	if info.Duration < MinReferenceDuration || info.Duration > MaxReferenceDuration {
		ref.Warnings = append(ref.Warnings, fmt.Sprintf(
			"reference duration %.1fs is outside the recommended %.0f-%.0fs range",
			info.Duration.Seconds(), MinReferenceDuration.Seconds(), MaxReferenceDuration.Seconds()))
	}
	if audio.IsNearSilent(info) {
		ref.Warnings = append(ref.Warnings, fmt.Sprintf("reference audio is near silent (rms %.4f)", info.RMS))
	}
}

// Speaker resolves id to a reference path that still exists on disk.
func (v *Validator) Speaker(lookup SpeakerLookup, id string) (string, error) {
	if lookup == nil {
		return "", reject(FieldSpeaker, ErrUnknownSpeaker, fmt.Sprintf("unknown speaker %q", id))
	}

	path, ok := lookup.ReferencePath(id)
	if !ok {
		return "", reject(FieldSpeaker, ErrUnknownSpeaker, fmt.Sprintf("unknown speaker %q", id))
	}

	if _, err := os.Stat(path); err != nil {
		return "", reject(FieldSpeaker, ErrReferenceMissing,
			fmt.Sprintf("reference audio for speaker %q is missing", id))
	}

	return path, nil
}

// Model returns model, or the first configured model when model is empty.
func (v *Validator) Model(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		if len(v.models) == 0 {
			return "", nil
		}
		return v.models[0], nil
	}

	for _, m := range v.models {
		if m == model {
			return model, nil
		}
	}

	return "", reject(FieldModel, ErrUnknownModel,
		fmt.Sprintf("unknown model %q; available models: %s", model, strings.Join(v.models, ", ")))
}
