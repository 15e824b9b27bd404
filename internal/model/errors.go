package model

import "github.com/rotisserie/eris"

// Error taxonomy. Callers match with errors.Is after wrapping.
var (
	// ErrNavigation means items could not be retrieved for a site.
	ErrNavigation = eris.New("navigation failure")
	// ErrExtraction means a single item's fields could not be parsed.
	ErrExtraction = eris.New("extraction failure")
	// ErrAIService covers provider errors, timeouts and unparsable responses.
	ErrAIService = eris.New("ai service failure")
	// ErrOrchestration is a fault in fan-out or aggregation not attributable to a site.
	ErrOrchestration = eris.New("orchestration failure")
	// ErrCancelled is returned by runners that observed job cancellation.
	ErrCancelled = eris.New("job cancelled")
	// ErrInvalidRequest rejects a job request at creation time.
	ErrInvalidRequest = eris.New("invalid request")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = eris.New("job not found")
)

// KindError attaches a taxonomy kind to an underlying error so that both
// errors.Is(err, kind) and errors.Is(err, cause) hold.
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify tags err with kind. A nil err yields nil.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}
