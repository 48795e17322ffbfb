package facilitator

import (
	"errors"
	"fmt"

	"claimScope/internal/model"
)

// ErrNotInitialized is returned when an operation runs before the contract binding exists.
var ErrNotInitialized = errors.New("facilitator is not initialized")

// QueryError reports a failed event query for one event kind.
type QueryError struct {
	Kind    model.EventKind
	Account string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s events for %s: %v", e.Kind, e.Account, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
