// httputil/json.go
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dalemusser/dupkey/unique"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ValidationResponse is the 422 body for a failed write.
type ValidationResponse struct {
	Error   string                        `json:"error"`
	Message string                        `json:"message"`
	Errors  map[string]*unique.FieldError `json:"errors"`
}

// Request body errors. Messages are safe to return to clients.
var (
	ErrEmptyBody    = errors.New("request body is empty")
	ErrBodyTooLarge = errors.New("request body too large")
)

var jsonLogger = zap.NewNop()

// SetLogger sets the logger used for encoding failures after headers are sent.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		jsonLogger = logger
	}
}

// WriteJSON writes v with the given status. Invalid status codes become 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		jsonLogger.Error("json encoding failed after headers sent",
			zap.String("type", fmt.Sprintf("%T", v)), zap.Error(err))
	}
}

// JSONError writes a structured JSON error with an error code and message.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// ValidationFailed writes verr as a 422 response.
func ValidationFailed(w http.ResponseWriter, verr *unique.ValidationError) {
	WriteJSON(w, http.StatusUnprocessableEntity, ValidationResponse{
		Error:   "validation_failed",
		Message: verr.Error(),
		Errors:  verr.Errors,
	})
}

// BindDocument decodes a single MongoDB Extended JSON document from the
// request body. Relaxed and canonical forms are both accepted, so
// {"_id": {"$oid": "..."}} yields a primitive.ObjectID.
func BindDocument(r *http.Request) (bson.D, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, ErrEmptyBody
	}
	defer r.Body.Close()

	b, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, ErrBodyTooLarge
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyBody
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return nil, errors.New("body must be a single JSON object")
	}
	return doc, nil
}
