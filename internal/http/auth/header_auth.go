package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
)

// HeaderAuthenticator trusts the principal headers set by the gateway in
// front of the service.
type HeaderAuthenticator struct{}

func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{}
}

func (h *HeaderAuthenticator) Authenticate(c *gin.Context) (bsd.Principal, error) {
	principal := bsd.Principal{
		Subject:  strings.TrimSpace(c.GetHeader("X-Principal-Subject")),
		AuthType: strings.TrimSpace(c.GetHeader("X-Auth-Type")),
		Orgs:     splitCSV(c.GetHeader("X-Principal-Orgs")),
		Scopes:   splitCSV(c.GetHeader("X-Principal-Scopes")),
		Roles:    splitCSV(c.GetHeader("X-Principal-Roles")),
	}
	if principal.Subject == "" {
		return bsd.Principal{}, bsd.ErrUnauthorized
	}
	if principal.AuthType == "" {
		principal.AuthType = "header"
	}
	return principal, nil
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
