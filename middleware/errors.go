package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/stackauth"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// WriteError renders err as JSON with the status of its kind. Errors that
// did not come from stackauth are rendered as a generic internal error.
func WriteError(w http.ResponseWriter, err error) {
	payload := errorPayload{
		Kind:    stackauth.KindInternal.String(),
		Message: stackauth.ErrInternal.Error(),
	}
	status := http.StatusInternalServerError

	var e *stackauth.Error
	if errors.As(err, &e) {
		payload.Kind = e.Kind.String()
		payload.Message = e.Error()
		payload.Violations = e.Violations
		status = e.Kind.HTTPStatus()
	}

	WriteJSON(w, status, errorBody{Error: payload})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newError(kind stackauth.Kind, message string) *stackauth.Error {
	return &stackauth.Error{Kind: kind, Message: message}
}
