package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicpulse/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error maps a service error to its HTTP status. Errors without a known kind are
// reported as 500 with fallback as the message; the cause is attached to the gin context.
func Error(c *gin.Context, err error, fallback string) {
	switch apperr.Kind(err) {
	case apperr.ErrValidation, apperr.ErrInvalidState:
		BadRequest(c, err.Error())
	case apperr.ErrUnauthenticated:
		Unauthorized(c, err.Error())
	case apperr.ErrPermissionDenied:
		Forbidden(c, err.Error())
	case apperr.ErrNotFound:
		NotFound(c, err.Error())
	case apperr.ErrDuplicateVote:
		Conflict(c, err.Error())
	default:
		_ = c.Error(err)
		Internal(c, fallback)
	}
}
