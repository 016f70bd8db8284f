package validation

// PlainInput is a raw plain synthesis submission.
type PlainInput struct {
	Text      string
	Language  string
	SpeakerID string
	Model     string
}

// Plain is a validated plain synthesis submission.
type Plain struct {
	Text      string
	Language  string
	SpeakerID string
	// ReferenceAudio is empty when no speaker was requested.
	ReferenceAudio string
	Model          string
}

// CloneInput is a raw cloning submission.
type CloneInput struct {
	Text           string
	ReferenceAudio string
	Language       string
	Model          string
}

// Clone is a validated cloning submission.
type Clone struct {
	Text      string
	Language  string
	Reference Reference
	Model     string
}

// ValidatePlain runs text, language, then speaker resolution. An empty
// SpeakerID skips resolution.
func (v *Validator) ValidatePlain(in PlainInput, speakers SpeakerLookup) (Plain, error) {
	text, err := v.Text(in.Text)
	if err != nil {
		return Plain{}, err
	}

	lang, err := v.Language(in.Language)
	if err != nil {
		return Plain{}, err
	}

	out := Plain{Text: text, Language: lang, SpeakerID: in.SpeakerID}

	if in.SpeakerID != "" {
		ref, err := v.Speaker(speakers, in.SpeakerID)
		if err != nil {
			return Plain{}, err
		}
		out.ReferenceAudio = ref
	}

	out.Model, err = v.Model(in.Model)
	if err != nil {
		return Plain{}, err
	}

	return out, nil
}

// ValidateClone runs text, language, then reference audio checks.
func (v *Validator) ValidateClone(in CloneInput) (Clone, error) {
	text, err := v.Text(in.Text)
	if err != nil {
		return Clone{}, err
	}

	lang, err := v.Language(in.Language)
	if err != nil {
		return Clone{}, err
	}

	ref, err := v.ReferenceAudio(in.ReferenceAudio)
	if err != nil {
		return Clone{}, err
	}

	model, err := v.Model(in.Model)
	if err != nil {
		return Clone{}, err
	}

	return Clone{Text: text, Language: lang, Reference: ref, Model: model}, nil
}
