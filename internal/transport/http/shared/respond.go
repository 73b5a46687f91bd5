// Package shared holds the response helpers every handler uses.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "phivault/pkg/domain-errors"
)

// errorBody is the JSON error envelope. The message is the domain error's
// message, which services keep free of record existence hints and payload
// content.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeInvalidInput:      http.StatusBadRequest,
	dErrors.CodeUnauthorized:      http.StatusForbidden,
	dErrors.CodeNotFound:          http.StatusNotFound,
	dErrors.CodeConflict:          http.StatusConflict,
	dErrors.CodeIntegrity:         http.StatusConflict,
	dErrors.CodeInvalidTransition: http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:           http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:       http.StatusServiceUnavailable,
	dErrors.CodeInternal:          http.StatusInternalServerError,
}

// WriteError translates a domain error into its HTTP status and JSON
// envelope. Unknown errors collapse to an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		code = dErrors.CodeInternal
	}

	message := ""
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		message = domainErr.Message
	}
	WriteJSON(w, status, errorBody{Error: string(code), Message: message})
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
