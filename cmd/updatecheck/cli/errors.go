package cli

// SilentError wraps an error whose message the command has already shown
// to the user. main exits non-zero without printing it again.
type SilentError struct {
	Err error
}

// NewSilentError marks err as already reported.
func NewSilentError(err error) *SilentError {
	return &SilentError{Err: err}
}

func (e *SilentError) Error() string {
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.Err
}
