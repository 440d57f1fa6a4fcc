package chat

import "errors"

// ErrNoInput is returned when a request carries no message.
var ErrNoInput = errors.New("No input provided")

// Request is the body of POST /chat. Message is a pointer so an explicit
// null is distinguishable from a missing field while decoding; both are
// rejected the same way.
type Request struct {
	Message *string `json:"message"`
}

// Validate reports ErrNoInput when the message is absent, null, or empty.
func (r Request) Validate() error {
	if r.Message == nil || *r.Message == "" {
		return ErrNoInput
	}
	return nil
}

// Response is the success body of POST /chat.
type Response struct {
	Response string `json:"response"`
}

// ErrorResponse is the failure body of POST /chat.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InferenceError wraps any failure raised while producing a completion.
// Its message is exactly the underlying failure's text.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }
