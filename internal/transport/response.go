// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the grantflow API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes. ALREADY_REVOKED
// and ALREADY_EXPIRED only reach this map when a handler did not resolve them
// to a 200 with the terminal grant body.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrForbidden:         http.StatusForbidden,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrValidationError:   http.StatusUnprocessableEntity,
	model.ErrBusy:              http.StatusServiceUnavailable,
	model.ErrInternalError:     http.StatusInternalServerError,
	model.ErrUnauthorizedStage: http.StatusForbidden,
	model.ErrNotActionable:     http.StatusConflict,
	model.ErrDuplicateGrant:    http.StatusConflict,
	model.ErrAlreadyRevoked:    http.StatusConflict,
	model.ErrAlreadyExpired:    http.StatusConflict,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned. The current trace ID is stamped onto the envelope when one is
// active.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	if r != nil {
		if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" && ee.TraceID == "" {
			// Copy before stamping so shared sentinel errors stay clean.
			stamped := *ee
			stamped.TraceID = traceID
			ee = &stamped
		}
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, r *http.Request, details []model.FieldError) {
	WriteError(w, r, model.NewValidationError(details))
}
