package scoring

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse indicates the remote model returned an empty or
// unparseable body. Non-retriable data error; the caller's original batch
// stays valid.
var ErrEmptyResponse = errors.New("empty or malformed model response")

// ErrBatchTooLarge indicates the document batch exceeds the transport's
// configured cap.
var ErrBatchTooLarge = errors.New("document batch exceeds transport limit")

// TransportError wraps network, auth, timeout and HTTP status failures
// talking to the remote scoring service. Nothing is retried internally;
// callers own retry policy.
type TransportError struct {
	ConnectorID string
	Endpoint    string
	StatusCode  int // zero when the call never produced a response
	Cause       error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring transport: connector %s: status %d: %v", e.ConnectorID, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("scoring transport: connector %s: %v", e.ConnectorID, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IndexMismatchError indicates the remote model violated the scoring
// contract: its result set does not cover exactly the submitted documents
// with indices forming a permutation of [0, N).
type IndexMismatchError struct {
	ConnectorID string
	Want        int // documents submitted
	Got         int // scores returned
	Detail      string
}

func (e *IndexMismatchError) Error() string {
	msg := fmt.Sprintf("score index mismatch: connector %s: submitted %d documents, got %d scores", e.ConnectorID, e.Want, e.Got)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
