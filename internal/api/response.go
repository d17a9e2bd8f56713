package api

import (
	"encoding/json"
	"errors"
	"net/http"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	JSONResponseStatus(w, APIError{Error: message}, status)
}

// HandleError maps an *OrchError to its HTTP status and code. Any other
// error is a 500.
func HandleError(w http.ResponseWriter, err error) {
	var orchErr *orcherrors.OrchError
	if errors.As(err, &orchErr) {
		HandleOrchError(w, orchErr)
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}

// HandleOrchError writes an OrchError response.
func HandleOrchError(w http.ResponseWriter, err *orcherrors.OrchError) {
	JSONResponseStatus(w, APIError{
		Error:   err.What,
		Code:    string(err.Code),
		Details: err.Why,
	}, err.HTTPStatus())
}

// Message is the body of simple acknowledgements.
type Message struct {
	Success bool   `json:"success,omitempty"`
	TaskID  int64  `json:"taskId,omitempty"`
	Message string `json:"message,omitempty"`
}
