package ensure

import "errors"

var (
	// ErrEnsureFailed marks a retryable failure to bring an artifact into the cache.
	ErrEnsureFailed = errors.New("ensure pdf failed")
	// ErrTimedOut wraps ErrEnsureFailed when polling exceeds the maximum wait.
	ErrTimedOut = errors.New("timed out waiting for pdf")
	// ErrUnversioned rejects identifiers without a version; it is not retried.
	ErrUnversioned = errors.New("identifier has no version")
)
