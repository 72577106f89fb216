package documents

import (
	"fmt"
	"slices"
)

// BatchError reports the documents a multi-document write could not store
// for one log position. Errors is keyed by document ID, or "#<index>" when
// the document had no readable ID.
type BatchError struct {
	Collection string
	Position   int64
	Total      int
	Errors     map[string]error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("collection %s: position %d: %d of %d documents failed",
		e.Collection, e.Position, len(e.Errors), e.Total)
}

// IDs returns the failed document keys in sorted order.
func (e *BatchError) IDs() []string {
	ids := make([]string, 0, len(e.Errors))
	for id := range e.Errors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unwrap exposes the per-document errors in ID order so errors.Is and
// errors.As see through the batch.
func (e *BatchError) Unwrap() []error {
	ids := e.IDs()
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = e.Errors[id]
	}
	return errs
}
