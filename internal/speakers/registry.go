// Package speakers holds the named reference voices used for plain synthesis.
package speakers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/lexiqai/synthesis-gateway/internal/validation"
)

var (
	ErrDuplicateSpeaker = errors.New("duplicate speaker")
	ErrInvalidProfile   = errors.New("invalid speaker profile")
)

// Profile maps a speaker name to its reference audio and language.
type Profile struct {
	Name        string `toml:"name" json:"name"`
	Language    string `toml:"language" json:"language"`
	Description string `toml:"description" json:"description"`
	Reference   string `toml:"reference" json:"-"`
}

type profileFile struct {
	Speakers []Profile `toml:"speaker"`
}

// ProfileError names the speaker whose profile failed verification.
type ProfileError struct {
	Speaker string
	Err     error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("speaker %q: %v", e.Speaker, e.Err)
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// Registry is immutable after construction and safe for concurrent reads.
type Registry struct {
	profiles map[string]Profile
	names    []string
}

// New builds a registry from profiles. Names must be unique.
func New(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}

	for _, p := range profiles {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" || strings.TrimSpace(p.Reference) == "" {
			return nil, fmt.Errorf("%w: name and reference are required", ErrInvalidProfile)
		}
		if _, dup := r.profiles[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSpeaker, p.Name)
		}

		p.Language = validation.NormalizeLanguage(p.Language)
		r.profiles[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)

	return r, nil
}

// Load parses a TOML speaker file. Relative references resolve against the
// file's directory. An empty path yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read speaker file %s: %w", path, err)
	}

	var file profileFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse speaker file %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range file.Speakers {
		ref := file.Speakers[i].Reference
		if ref != "" && !filepath.IsAbs(ref) {
			file.Speakers[i].Reference = filepath.Join(base, ref)
		}
	}

	return New(file.Speakers...)
}

// Lookup returns the profile for name.
func (r *Registry) Lookup(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// ReferencePath returns the reference audio path for name.
func (r *Registry) ReferencePath(name string) (string, bool) {
	p, ok := r.profiles[name]
	return p.Reference, ok
}

// List returns all profiles ordered by name.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.profiles[n])
	}
	return out
}

// Len is the number of profiles.
func (r *Registry) Len() int {
	return len(r.names)
}

// Verify checks every profile's language and reference audio. The first
// failure is returned as a *ProfileError; warnings are passed to warn.
func (r *Registry) Verify(v *validation.Validator, warn func(speaker string, warnings []string)) error {
	for _, name := range r.names {
		p := r.profiles[name]

		if _, err := v.Language(p.Language); err != nil {
			return &ProfileError{Speaker: name, Err: err}
		}

		ref, err := v.ReferenceAudio(p.Reference)
		if err != nil {
			return &ProfileError{Speaker: name, Err: err}
		}

		if len(ref.Warnings) > 0 && warn != nil {
			warn(name, ref.Warnings)
		}
	}

	return nil
}
