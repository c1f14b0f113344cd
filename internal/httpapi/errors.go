package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
)

// Error codes that do not come from auth.AuthzError.
const (
	codeUnauthenticated = "UNAUTHENTICATED"
	codeInvalidInput    = "INVALID_INPUT"
	codeAlreadyExists   = "ALREADY_EXISTS"
	codeNotFound        = "NOT_FOUND"
	codeQuotaExceeded   = "QUOTA_EXCEEDED"
	codeAccountLocked   = "ACCOUNT_LOCKED"
	codeForbidden       = "FORBIDDEN"
	codeBodyTooLarge    = "BODY_TOO_LARGE"
	codeInternal        = "INTERNAL"
)

type errorBody struct {
	Message   string            `json:"message"`
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type fieldDetailer interface {
	FieldDetails() map[string]string
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, fields map[string]string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sitesafe"`)
	}
	writeJSON(w, status, errorBody{
		Message:   msg,
		Code:      code,
		Fields:    fields,
		RequestID: RequestIDFromContext(r),
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authzErr *auth.AuthzError
		details  fieldDetailer
		tooLarge *http.MaxBytesError
	)
	var fields map[string]string
	if errors.As(err, &details) {
		fields = details.FieldDetails()
	}
	switch {
	case errors.As(err, &authzErr):
		writeError(w, r, http.StatusForbidden, authzErr.Code, authzErr.Message, nil)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "authentication required", nil)
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusLocked, codeAccountLocked, "account temporarily locked after repeated failed logins", nil)
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "request body too large", nil)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, summary("invalid input", err, fields), fields)
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, codeAlreadyExists, summary("already exists", err, fields), fields)
	case errors.Is(err, auth.ErrQuotaExceeded):
		writeError(w, r, http.StatusConflict, codeQuotaExceeded, "plan quota exceeded", nil)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found", nil)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, codeForbidden, err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

// summary keeps the message short when per-field details are attached.
func summary(short string, err error, fields map[string]string) string {
	if len(fields) > 0 {
		return short
	}
	return err.Error()
}

// decodeJSON reads exactly one JSON document into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return invalidBody("request body is required")
		default:
			return invalidBody(err.Error())
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidBody("unexpected data after JSON body")
	}
	return nil
}

func invalidBody(msg string) error {
	return &auth.ValidationError{Fields: map[string]string{"body": msg}}
}
