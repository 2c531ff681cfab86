package authz

import "errors"

// Hierarchy violations are distinct, named errors so the HTTP layer can
// surface the specific rule broken instead of a generic forbidden.
var (
	ErrUnauthenticated   = errors.New("authz: authentication required")
	ErrForbidden         = errors.New("authz: forbidden")
	ErrSelfRoleChange    = errors.New("authz: cannot change own role")
	ErrInsufficientPower = errors.New("authz: target role power is not below yours")
	ErrRoleTooHigh       = errors.New("authz: cannot assign a role at or above your own power")
	ErrLeaderProtected   = errors.New("authz: leader role is protected")
	ErrRootProtected     = errors.New("authz: root identity is protected")
	ErrInvalidRole       = errors.New("authz: unknown role")
	ErrValidation        = errors.New("authz: validation failed")
)
