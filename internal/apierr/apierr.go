// Package apierr is the client-visible error surface: a small fixed set of codes with a
// human-readable message, rendered as {"error": {"code": ..., "message": ...}}.
package apierr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Code string

const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeAccountDisabled    Code = "ACCOUNT_DISABLED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Status maps a code to its HTTP status.
func (c Code) Status() int {
	switch c {
	case CodeUnauthorized, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodeAccountDisabled:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body builds the error envelope. extra fields are merged into the error object.
func Body(code Code, message string, extra gin.H) gin.H {
	e := gin.H{"code": string(code), "message": message}
	for k, v := range extra {
		e[k] = v
	}
	return gin.H{"error": e}
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, code Code, message string) {
	AbortWith(c, code, message, nil)
}

func AbortWith(c *gin.Context, code Code, message string, extra gin.H) {
	c.AbortWithStatusJSON(code.Status(), Body(code, message, extra))
}
