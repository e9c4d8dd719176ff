// ownrequest.go marks failures of the pipeline's own outbound requests so the
// capture handlers never report them back into the pipeline.

package aisen

import "errors"

// OwnRequester is implemented by failures that originate from a request the
// pipeline itself issued.
type OwnRequester interface {
	OwnRequest() bool
}

type ownRequestError struct {
	err error
}

func (e *ownRequestError) Error() string    { return e.err.Error() }
func (e *ownRequestError) Unwrap() error    { return e.err }
func (e *ownRequestError) OwnRequest() bool { return true }

// MarkOwnRequest tags err as a failure of the pipeline's own delivery.
func MarkOwnRequest(err error) error {
	if err == nil {
		return nil
	}
	return &ownRequestError{err: err}
}

// IsOwnRequest reports whether v carries the own-request marker, either
// directly or anywhere in its error chain.
func IsOwnRequest(v any) bool {
	if err, ok := v.(error); ok && err != nil {
		var marked OwnRequester
		return errors.As(err, &marked) && marked.OwnRequest()
	}
	if marked, ok := v.(OwnRequester); ok {
		return marked.OwnRequest()
	}
	return false
}
