package condition

import (
	"errors"
	"fmt"
)

var (
	ErrNilCondition   = errors.New("nil condition")
	ErrEmptyCompound  = errors.New("compound condition without children")
	ErrRoleNotAllowed = errors.New("role given for a dimension without roles")
	ErrInvalidRole    = errors.New("invalid role for dimension")
	ErrMatchRoles     = errors.New("role matching requires simple children")
	ErrInvalidRange   = errors.New("invalid count range")

	// ErrStaleResults is reported by results created before the indexes
	// were cleared
	ErrStaleResults = errors.New("results invalidated by a clear")
)

// QueryError is returned for a condition or request that cannot be
// evaluated. It is reported before any iteration starts.
type QueryError struct {
	Op        string
	Condition string
	Cause     error
}

func (e *QueryError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("query %s %s: %v", e.Op, e.Condition, e.Cause)
	}
	return fmt.Sprintf("query %s: %v", e.Op, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// IsQueryError reports whether err is a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
