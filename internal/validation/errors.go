package validation

import "errors"

// Reasons a submission is rejected. Every *Error unwraps to one of these.
var (
	ErrEmptyText           = errors.New("text is empty")
	ErrTextTooLong         = errors.New("text is too long")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrReferenceMissing    = errors.New("reference audio not found")
	ErrReferenceFormat     = errors.New("reference audio format not admissible")
	ErrReferenceTooSmall   = errors.New("reference audio too small")
	ErrReferenceTooLarge   = errors.New("reference audio too large")
	ErrUnknownSpeaker      = errors.New("unknown speaker")
	ErrUnknownModel        = errors.New("unknown model")
)

// Fields reported on rejection.
const (
	FieldText      = "text"
	FieldLanguage  = "language"
	FieldReference = "reference_audio"
	FieldSpeaker   = "speaker"
	FieldModel     = "model"
)

// Error is a client-caused rejection. Message is safe to show to callers.
type Error struct {
	Field   string
	Reason  error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func reject(field string, reason error, message string) *Error {
	return &Error{Field: field, Reason: reason, Message: message}
}

// IsValidationError reports whether err carries a *Error.
func IsValidationError(err error) bool {
	var vErr *Error
	return errors.As(err, &vErr)
}

// FieldOf returns the rejected field, or "" when err is not a validation error.
func FieldOf(err error) string {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Field
	}
	return ""
}
