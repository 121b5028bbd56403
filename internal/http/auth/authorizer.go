package auth

import (
	"errors"
	"strings"

	"bordereau/internal/domain/bsd"
)

const (
	DefaultAdminRole  = "bsd_admin"
	DefaultAdminScope = "admin:*"
)

type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Authorizer checks request scopes. Which documents a principal may touch is
// decided by the usecase layer from its organizations.
type Authorizer struct {
	adminRole  string
	adminScope string
}

var _ bsd.Authorizer = (*Authorizer)(nil)

func NewAuthorizer() *Authorizer {
	return &Authorizer{adminRole: DefaultAdminRole, adminScope: DefaultAdminScope}
}

func (a *Authorizer) Require(principal bsd.Principal, permission string) error {
	if principal.Subject == "" {
		return bsd.ErrUnauthorized
	}
	if permission == "" {
		return nil
	}
	if a.IsAdmin(principal) {
		return nil
	}
	if strings.HasPrefix(permission, "admin:") {
		return &AuthzError{Code: "MISSING_ROLE", Err: bsd.ErrForbidden}
	}
	if !hasScope(principal, permission) {
		return &AuthzError{Code: "MISSING_SCOPE", Err: bsd.ErrForbidden}
	}
	return nil
}

func (a *Authorizer) IsAdmin(principal bsd.Principal) bool {
	for _, r := range principal.Roles {
		if r == a.adminRole {
			return true
		}
	}
	return hasScope(principal, a.adminScope)
}

func hasScope(principal bsd.Principal, scope string) bool {
	if scope == "" {
		return false
	}
	for _, s := range principal.Scopes {
		if s == scope || s == DefaultAdminScope {
			return true
		}
	}
	return false
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
