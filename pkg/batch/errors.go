package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/bicat/pkg/resolver"
)

// Common errors returned by the orchestrator.
var (
	// ErrInterrupted is returned when the context is cancelled before all
	// pipelines finish.
	ErrInterrupted = errors.New("batch interrupted")

	// ErrPipelineCrash marks a pipeline that panicked.
	ErrPipelineCrash = errors.New("pipeline crashed")
)

// Kind classifies batch-level failures.
type Kind string

const (
	// KindPartialFailure means at least one item failed.
	KindPartialFailure Kind = "partial_failure"

	// KindNoItems means a collection yielded no items or could not be listed.
	KindNoItems Kind = "no_items"

	// KindInvalidInput means Run was called without items.
	KindInvalidInput Kind = "invalid_input"
)

// BatchError is a batch-level failure.
type BatchError struct {
	Kind   Kind
	Failed []resolver.Item
	Err    error
}

func (e *BatchError) Error() string {
	switch e.Kind {
	case KindPartialFailure:
		ids := make([]string, len(e.Failed))
		for i, item := range e.Failed {
			ids[i] = string(item)
		}
		return fmt.Sprintf("%d item(s) failed: %s", len(e.Failed), strings.Join(ids, " "))
	case KindNoItems:
		if e.Err != nil {
			return fmt.Sprintf("no items to process: %v", e.Err)
		}
		return "no items to process"
	default:
		if e.Err != nil {
			return fmt.Sprintf("invalid input: %v", e.Err)
		}
		return "invalid input"
	}
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *BatchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var batchErr *BatchError
	return errors.As(err, &batchErr) && batchErr.Kind == kind
}
