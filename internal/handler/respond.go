package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/KaifLake/internal/service"
	"github.com/Gopher0727/KaifLake/middleware/jwt"
)

// Keys set on the gin context by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextClaims = "claims"
	ContextToken  = "token"
)

// respondError maps service errors to status codes. Unknown errors are
// attached to the context for the request logger and hidden from the client.
func respondError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMediaUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// currentUserID reads the caller set by the auth middleware and writes a
// 401 when it is missing.
func currentUserID(c *gin.Context) (int64, bool) {
	id, ok := service.ParseID(c.GetString(ContextUserID))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrUnauthorized.Error()})
		return 0, false
	}
	return id, true
}

func currentClaims(c *gin.Context) (*jwt.Claims, string, bool) {
	claims, ok := c.Get(ContextClaims)
	if !ok {
		return nil, "", false
	}
	typed, ok := claims.(*jwt.Claims)
	if !ok {
		return nil, "", false
	}
	return typed, c.GetString(ContextToken), true
}

// pathID parses the :id parameter. A malformed id is reported as notFound.
func pathID(c *gin.Context, notFound error) (int64, bool) {
	id, ok := service.ParseID(c.Param("id"))
	if !ok {
		respondError(c, notFound)
		return 0, false
	}
	return id, true
}
