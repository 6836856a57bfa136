// Package response defines the JSON envelope used by all HTTP endpoints.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the API response envelope. Either Data or Error is set, never both.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Success: false, Error: msg})
}

// OK sends a 200 with data.
func OK(c *gin.Context, data interface{}) { ok(c, http.StatusOK, data) }

// Created sends a 201 with data.
func Created(c *gin.Context, data interface{}) { ok(c, http.StatusCreated, data) }

// NoContent sends a bare 204.
func NoContent(c *gin.Context) { c.Status(http.StatusNoContent) }

// BadRequest sends a 400 with an error message.
func BadRequest(c *gin.Context, msg string) { fail(c, http.StatusBadRequest, msg) }

// Unauthorized sends a 401 with an error message.
func Unauthorized(c *gin.Context, msg string) { fail(c, http.StatusUnauthorized, msg) }

// Forbidden sends a 403 with an error message.
func Forbidden(c *gin.Context, msg string) { fail(c, http.StatusForbidden, msg) }

// NotFound sends a 404 with an error message.
func NotFound(c *gin.Context, msg string) { fail(c, http.StatusNotFound, msg) }

// Conflict sends a 409 with an error message.
func Conflict(c *gin.Context, msg string) { fail(c, http.StatusConflict, msg) }

// ServiceUnavailable sends a 503 with an error message.
func ServiceUnavailable(c *gin.Context, msg string) { fail(c, http.StatusServiceUnavailable, msg) }

// Internal sends a 500 with an error message.
func Internal(c *gin.Context, msg string) { fail(c, http.StatusInternalServerError, msg) }
