package pagespeed

import (
	"errors"
)

// Sentinel kinds for scoring client errors.
var (
	ErrUpstream          = errors.New("pagespeed upstream failed")
	ErrMalformedResponse = errors.New("malformed pagespeed response")
)

// fallbackMessage is reported when the upstream gives no usable error text.
const fallbackMessage = "Failed to fetch PageSpeed data"

// UpstreamError reports a transport failure or a non-2xx answer from the
// PageSpeed API. Status is 0 when no response was received.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	return e.Message
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// MalformedError reports a 2xx body that cannot be read as a Lighthouse result.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return "malformed pagespeed response: " + e.Reason + ": " + e.Err.Error()
	}
	return "malformed pagespeed response: " + e.Reason
}

func (e *MalformedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}
