package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/mobiletester/mt-api/internal/errors"
)

// DecodeJSON decodes JSON from the request body into the destination.
// Returns false after writing a 400 response when the body is malformed.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Client went away; nothing to do.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAppError maps an application error to its HTTP status and writes it.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	WriteError(w, ErrorParams{Code: statusForCode(code), ErrCode: string(code), Err: err})
}

func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeForeignKey:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrCodeProviderRejected:
		return http.StatusBadGateway
	case apperrors.ErrCodeProviderUnavailable, apperrors.ErrCodeAnalysisUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
