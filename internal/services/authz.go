package services

import (
	"fmt"

	"github.com/ballotd/apiserver/types"
)

// RequireRole fails closed: anything but an authenticated principal holding
// role is Forbidden.
func RequireRole(principal types.Principal, role types.Role) error {
	if principal.IsZero() || principal.Role != role {
		return fmt.Errorf("%w: %s role required", ErrForbidden, role)
	}
	return nil
}
