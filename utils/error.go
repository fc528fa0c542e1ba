package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse defines the structure of error responses
type ErrorResponse struct {
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorHandler is a middleware to catch panics and return structured errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Logger := GetLogger()
				Logger.Error("Unhandled panic", zap.Any("error", err))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Message: "Internal Server Error",
					Details: "An unexpected error occurred. Please try again later.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// JSONError sends a standardized JSON error response
func JSONError(c *gin.Context, status int, message string, details string) {
	Logger := GetLogger()
	Logger.Warn(message, zap.String("details", details))
	c.JSON(status, ErrorResponse{Message: message, Details: details})
}

// RespondError maps err onto its HTTP status. Unknown errors become 500s.
func RespondError(c *gin.Context, err error) {
	if appErr, ok := AsAppError(err); ok {
		resp := ErrorResponse{Code: appErr.Code(), Message: appErr.Error()}
		if conflict, ok := appErr.(*ConflictError); ok {
			resp.Data = conflict.Data
		}
		if validation, ok := appErr.(*ValidationError); ok && len(validation.Fields) > 0 {
			resp.Data = validation.Fields
		}
		GetLogger().Warn("request rejected", zap.String("code", appErr.Code()), zap.Error(err))
		c.JSON(appErr.Status(), resp)
		return
	}
	JSONError(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
}
