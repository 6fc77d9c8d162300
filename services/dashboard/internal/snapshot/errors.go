package snapshot

import "errors"

var (
	// ErrNotFound reports a missing snapshot file or generator script.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt reports a snapshot whose contents do not parse as JSON.
	ErrCorrupt = errors.New("snapshot is not valid JSON")
	// ErrGeneration is matched by every *GenerationError.
	ErrGeneration = errors.New("snapshot generation failed")
	// ErrTimeout reports a generator run that exceeded its timeout.
	ErrTimeout = errors.New("generator timed out")
	// ErrIO reports any other filesystem failure.
	ErrIO = errors.New("snapshot i/o error")
)

// GenerationError describes a failed generator run. Stderr holds whatever the
// generator wrote to its error stream.
type GenerationError struct {
	Msg    string
	Stderr string
	Err    error
}

func (e *GenerationError) Error() string {
	return e.Msg
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGeneration}
	}
	return []error{ErrGeneration, e.Err}
}

func cancelledError(cause error) *GenerationError {
	return &GenerationError{Msg: "Stats generation cancelled", Err: cause}
}

// ReadResult classifies a read error for metrics labels.
func ReadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	default:
		return "io_error"
	}
}
