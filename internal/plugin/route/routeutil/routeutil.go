// Package routeutil holds the error mapping and small helpers shared by the
// route plugins.
package routeutil

import (
	"errors"
	"net/http"

	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// HandleError maps typed store errors onto HTTP status codes. Unknown errors
// become an opaque 500; handler code never exposes internal error text.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var gone *registrystore.GoneError

	switch {
	case err == nil:
		return
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusBadRequest, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
	case errors.As(err, &gone):
		c.JSON(http.StatusGone, gin.H{"code": "gone", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// QueryInt returns an integer query parameter or def when absent/invalid.
func QueryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
