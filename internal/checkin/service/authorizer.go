package checkin

import (
	"context"
	"fmt"
)

type AssignmentLookup interface {
	IsAssigned(ctx context.Context, checkerID, eventID, venueID string) (bool, error)
}

// Authorizer answers whether a checker may scan for an event, and optionally for a
// specific venue of it. A missing assignment is a false result, not an error.
type Authorizer struct {
	Assignments AssignmentLookup
}

func NewAuthorizer(lookup AssignmentLookup) *Authorizer {
	return &Authorizer{Assignments: lookup}
}

func (a *Authorizer) IsAuthorized(ctx context.Context, checkerID, eventID, venueID string) (bool, error) {
	if checkerID == "" {
		return false, nil
	}
	ok, err := a.Assignments.IsAssigned(ctx, checkerID, eventID, venueID)
	if err != nil {
		return false, fmt.Errorf("check assignment for %s: %w", checkerID, err)
	}
	return ok, nil
}
