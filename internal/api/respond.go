package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/soaringjerry/Formsy/internal/middleware"
	"github.com/soaringjerry/Formsy/internal/services"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden, services.ErrorClosed:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error onto its status. Anything else is logged
// and reported as a bare internal error.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeErrorBody(w, statusFor(se.Code), string(se.Code), se.Message)
		return
	}
	rt.logger.ErrorContext(r.Context(), "request failed",
		"module", "api",
		"operation", op,
		"outcome", "error",
		"error", err,
		"request_id", middleware.RequestIDFromContext(r.Context()),
	)
	writeErrorBody(w, http.StatusInternalServerError, "internal", "internal error")
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, services.NewInvalidError("request body too large")
		}
		return nil, services.NewInvalidError("could not read request body")
	}
	return body, nil
}

// decodeJSON reads the body into dst, rejecting anything that is not JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return services.NewInvalidError("invalid JSON body")
	}
	return nil
}
