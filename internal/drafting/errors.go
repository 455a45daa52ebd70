package drafting

import "fmt"

// GenerationError means the reasoning backend could not be reached or
// refused the request after the retry policy was exhausted.
type GenerationError struct {
	ThreadID string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("drafting: generation failed for thread %s: %v", e.ThreadID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ParseError means the backend answered but the reply could not be turned
// into a reply, justification and confidence.
type ParseError struct {
	ThreadID string
	Reason   string
	// Raw is a PII-scrubbed excerpt of the model output.
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("drafting: unparsable reply for thread %s: %s", e.ThreadID, e.Reason)
}
