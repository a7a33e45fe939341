package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/taxi-booking/internal/booking"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
	// RequestID lets a user quote a failed request to support.
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeEngineError maps booking errors to status codes. Collaborator causes
// are logged and never echoed to the client.
func (s *Server) writeEngineError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		ve *booking.ValidationError
		ae *booking.AuthorizationError
		pe *booking.PreconditionError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Reason, Code: "validation", Field: ve.Field})
	case errors.As(err, &ae):
		writeError(w, http.StatusForbidden, "forbidden", ae.Error())
	case errors.As(err, &pe):
		writeError(w, http.StatusConflict, "precondition", pe.Required)
	case errors.Is(err, booking.ErrRoleRequired):
		writeError(w, http.StatusConflict, "role_required", "choose Driver or Customer to continue")
	case errors.Is(err, booking.ErrRideNotFound), errors.Is(err, booking.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.ErrorContext(ctx, "request_failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:     "something went wrong, try again",
			Code:      "collaborator",
			RequestID: requestIDFromContext(ctx),
		})
	}
}
