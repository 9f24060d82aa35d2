package relay

// ValidationError reports malformed caller input. No state is touched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrMessageRequired is returned for an empty message.
var ErrMessageRequired = &ValidationError{Message: "Message is required"}

// UpstreamError reports a failed completion call: an error payload from
// the provider or a transport failure. The user turn of the failed
// exchange stays in history.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }
