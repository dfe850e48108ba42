package llm

import "errors"

// Every error leaving the HTTP layer is wrapped as transient or fatal; the
// retry loop backs off on the former and stops immediately on the latter.

// TransientError marks a failure worth retrying: network errors, rate
// limits, 5xx responses.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err for the retry path.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks a failure retrying cannot cure, such as bad credentials
// or a rejected request body.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err so the retry loop stops on it.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err carries a transient wrapper anywhere in
// its chain.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err carries a fatal wrapper anywhere in its
// chain.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
