package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ValidationError describes one rejected field
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// bindJSON binds and validates the body into obj. On failure it writes a 400
// and returns false.
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, ValidationError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Message: getErrorMessage(fe),
			})
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": details,
		})
		return false
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
	return false
}

// getErrorMessage returns a user-friendly error message
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "oneof":
		return err.Field() + " must be one of: " + strings.ReplaceAll(err.Param(), " ", ", ")
	case "gt":
		return err.Field() + " must be greater than " + err.Param()
	case "unique":
		return err.Field() + " must not contain duplicates"
	case "min":
		return err.Field() + " must have at least " + err.Param() + " items"
	default:
		return err.Field() + " is invalid"
	}
}
