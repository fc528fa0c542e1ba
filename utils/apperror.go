package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tablebook/models"
)

// AppError is an error that carries a stable code and an HTTP status.
type AppError interface {
	error
	Code() string
	Status() int
}

// ValidationError reports malformed input.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Fields, ", "))
}
func (e *ValidationError) Code() string { return "VALIDATION_ERROR" }
func (e *ValidationError) Status() int  { return http.StatusUnprocessableEntity }

// NewValidationError builds a ValidationError.
func NewValidationError(msg string, fields ...string) *ValidationError {
	return &ValidationError{Message: msg, Fields: fields}
}

// BusinessRuleError reports a request that is well formed but breaks a tenant rule.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }
func (e *BusinessRuleError) Code() string  { return "BUSINESS_RULE" }
func (e *BusinessRuleError) Status() int   { return http.StatusConflict }

// NewBusinessRuleError builds a BusinessRuleError.
func NewBusinessRuleError(rule, msg string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: msg}
}

// Conflict kinds.
const (
	ConflictCapacity = "capacity"
	ConflictVersion  = "version"
)

// ConflictData is returned to the caller with a capacity conflict.
type ConflictData struct {
	Reason       string                         `json:"reason,omitempty"`
	Alternatives []models.AlternativeSuggestion `json:"alternatives,omitempty"`
}

// ConflictError reports a lost race: either capacity ran out or the version moved.
type ConflictError struct {
	Kind    string
	Message string
	Data    ConflictData
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Code() string  { return "CONFLICT" }
func (e *ConflictError) Status() int   { return http.StatusConflict }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Code() string  { return "NOT_FOUND" }
func (e *NotFoundError) Status() int   { return http.StatusNotFound }

// AsAppError unwraps err to an AppError.
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsBusinessRule(err error) bool {
	var b *BusinessRuleError
	return errors.As(err, &b)
}
