package engine

import "github.com/pkg/errors"

// ErrUnsafeStatement is returned when spatial generation yields a write statement
var ErrUnsafeStatement = errors.New("Only SELECT queries are allowed for spatial queries. The AI attempted to generate a write query which has been blocked.")

// ProcessingError is the error returned for a question that could not be
// answered. The partial envelope still carries the tokens spent.
type ProcessingError struct {
	Err      error
	Envelope *Envelope
}

func (e *ProcessingError) Error() string {
	return "Query processing failed: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
