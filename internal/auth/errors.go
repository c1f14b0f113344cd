package auth

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrAlreadyExists   = errors.New("auth: already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrNotFound        = errors.New("auth: not found")
	ErrQuotaExceeded   = errors.New("auth: quota exceeded")
	ErrAccountLocked   = errors.New("auth: account locked")
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// ValidationError carries per-field messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// FieldDetails exposes the per-field messages to transport layers.
func (e *ValidationError) FieldDetails() map[string]string { return e.Fields }

// Add records a field problem. The first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

// OrNil returns nil when no field was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Authorization failure codes.
const (
	CodeSuperAdminRequired = "SUPER_ADMIN_REQUIRED"
	CodeTenantRequired     = "TENANT_REQUIRED"
	CodeTenantMismatch     = "TENANT_MISMATCH"
	CodeMissingPermission  = "MISSING_PERMISSION"
	CodeSelfAction         = "SELF_ACTION_FORBIDDEN"
	CodeProtectedAccount   = "PROTECTED_ACCOUNT"
)

// AuthzError describes why a resolved principal was refused.
type AuthzError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func forbidden(code, msg string) error {
	return &AuthzError{Code: code, Message: msg, Err: ErrForbidden}
}

// IsAuthzError reports whether err carries an AuthzError.
func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
