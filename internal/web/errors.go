package web

// errors.go maps handler errors to JSON responses.
//
// The technical error is logged with the request id; the client receives the
// operator message from core.MapError.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/logging"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var noSnapshotMessage = core.UserMessage{
	Message: "No snapshot has been published yet",
	Action:  "Run the pipeline to publish the first snapshot",
	Code:    "SNP001",
}

// respondError logs err and writes the mapped message. A missing snapshot is
// always a 404.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		msg, status = noSnapshotMessage, http.StatusNotFound
	}

	log := logging.FromContext(r.Context())
	attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", msg.Code}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
