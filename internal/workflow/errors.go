package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOpportunityNotFound = errors.New("opportunity not found")
	ErrSurvivorNotFound    = errors.New("survivor not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrForbidden           = errors.New("actor is not permitted to perform this action")
	ErrOpportunityClosed   = errors.New("opportunity is not accepting applications")
	ErrInvalidTransition   = errors.New("invalid match status transition")

	ErrNotApplied = fmt.Errorf("%w: cannot award a match that has not been applied for", ErrInvalidTransition)
	ErrNotAwarded = fmt.Errorf("%w: cannot fund a match that has not been awarded", ErrInvalidTransition)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ParseID validates an identifier supplied by a caller.
func ParseID(kind, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, validationError("%s id is required", kind)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, validationError("invalid %s id %q", kind, raw)
	}
	return id, nil
}
