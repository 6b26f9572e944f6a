package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string             `json:"error"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

// httpStatus classifies err for an HTTP response.
func httpStatus(err error) int {
	var (
		ve *model.ValidationError
		ie inputError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errReadOnly):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// grpcError converts an operation error into a gRPC status error.
func grpcError(err error) error {
	msg := err.Error()
	switch httpStatus(err) {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, msg)
	case http.StatusNotFound:
		return status.Error(codes.NotFound, msg)
	case http.StatusConflict:
		return status.Error(codes.Aborted, msg)
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, msg)
	}
	return status.Error(codes.Internal, msg)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeOpError writes the response for a failed operation. Validation
// failures list every offending field; internal failures hide their cause.
func writeOpError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	body := errorBody{Error: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Error = "validation failed"
		body.Fields = ve.Errors
	}
	if code == http.StatusInternalServerError {
		var ie *model.IntegrityError
		if !errors.As(err, &ie) {
			slog.Error("request failed", "error", err)
		}
		body.Error = "internal server error"
	}
	writeJSON(w, code, body)
}
