// Package httpx holds the JSON response helpers shared by every handler and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kartline/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
)

// Error is the body of every non-2xx response:
//
//	{"error": "order_not_found", "message": "...", "status": 404, "requestId": "...", "traceId": "..."}
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, maxCodeLen), Message: clip(message, maxMessageLen), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}

// WriteError writes e, stamped with the chi request id and the trace id found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	WriteJSON(w, e.Status, errorBody{
		Error:     e.Code,
		Message:   e.Message,
		Status:    e.Status,
		RequestID: clip(middleware.GetReqID(ctx), maxCodeLen),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
	})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clip flattens line breaks so values are safe to echo back and truncates to limit bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
