package common

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/auth"
	"bordereau/internal/usecase"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Authenticator interface {
	Authenticate(*gin.Context) (bsd.Principal, error)
}

func AuthMiddleware(authenticator Authenticator, authorizer bsd.Authorizer, permission string, requireRequestID bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticator == nil || authorizer == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "auth misconfigured"})
			return
		}
		principal, err := authenticator.Authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: "authentication failed"})
			return
		}
		if err := authorizer.Require(principal, permission); err != nil {
			if authz, ok := auth.IsAuthzError(err); ok {
				c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Code: authz.Code, Message: "forbidden"})
				return
			}
			WriteError(c, err)
			return
		}
		c.Set(principalKey, principal)
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID != "" {
			c.Set(requestIDKey, requestID)
		}
		if requireRequestID && requestID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "MISSING_REQUEST_ID", Message: "X-Request-ID required"})
			return
		}
		c.Next()
	}
}

func PrincipalFromContext(c *gin.Context) (bsd.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "principal missing")
		return bsd.Principal{}, false
	}
	principal, ok := value.(bsd.Principal)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "principal invalid")
		return bsd.Principal{}, false
	}
	return principal, true
}

// ActorFromContext turns the authenticated principal into the usecase actor.
// An admin scope grants the admin role.
func ActorFromContext(c *gin.Context) (usecase.Actor, bool) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return usecase.Actor{}, false
	}
	roles := append([]string(nil), principal.Roles...)
	if auth.NewAuthorizer().IsAdmin(principal) {
		roles = append(roles, usecase.AdminRole)
	}
	return usecase.Actor{
		ID:       principal.Subject,
		Type:     "user",
		AuthType: principal.AuthType,
		Orgs:     principal.Orgs,
		Roles:    roles,
	}, true
}

func RequestID(c *gin.Context) string {
	if value, ok := c.Get(requestIDKey); ok {
		if requestID, ok := value.(string); ok {
			return strings.TrimSpace(requestID)
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Request-ID"))
}

func ParseUUIDParam(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, name+" is required")
		return "", false
	}
	if _, err := uuid.Parse(value); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, bsd.CodeBadUserInput, name+" must be a UUID")
		return "", false
	}
	return value, true
}

// ValidUUIDs reports whether every id parses as a UUID.
func ValidUUIDs(ids []string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func BindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return false
	}
	return true
}

// WriteError maps domain errors onto HTTP statuses, echoing the domain code
// and message where the client can act on them.
func WriteError(c *gin.Context, err error) {
	de, hasCode := bsd.AsError(err)
	write := func(status int, code, message string) {
		if hasCode {
			code, message = de.Code, de.Message
		}
		WriteErrorCode(c, status, code, message)
	}
	switch {
	case errors.Is(err, bsd.ErrUnauthorized):
		write(http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, bsd.ErrValidation):
		write(http.StatusBadRequest, bsd.CodeBadUserInput, "invalid input")
	case errors.Is(err, bsd.ErrForbidden):
		write(http.StatusForbidden, bsd.CodeForbidden, "forbidden")
	case errors.Is(err, bsd.ErrNotFound):
		write(http.StatusNotFound, bsd.CodeNotFound, "not found")
	case errors.Is(err, bsd.ErrTxConflict):
		WriteErrorCode(c, http.StatusConflict, bsd.CodeTxConflict, "concurrent modification, retry")
	case errors.Is(err, bsd.ErrConflict):
		write(http.StatusConflict, bsd.CodeConflict, "conflict")
	case errors.Is(err, bsd.ErrInvariant):
		WriteErrorCode(c, http.StatusInternalServerError, bsd.CodeInvariant, "internal consistency error")
	default:
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func WriteErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
