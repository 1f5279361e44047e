package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartline/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "0af7651916cd43dd8448eb211c80319c"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("order_not_found", "order\nnot found", http.StatusNotFound))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "order_not_found", body["error"])
	assert.Equal(t, "order not found", body["message"])
	assert.EqualValues(t, 404, body["status"])
	assert.Equal(t, "req-42", body["requestId"])
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", body["traceId"])
}

func TestWriteErrorDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, Error{Code: "boom"})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "requestId")
	assert.NotContains(t, rr.Body.String(), "traceId")
}

func TestNewErrorClipsLongValues(t *testing.T) {
	err := NewError(strings.Repeat("c", 200), strings.Repeat("m", 1000), 0)
	assert.Len(t, err.Code, maxCodeLen)
	assert.Len(t, err.Message, maxMessageLen)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Contains(t, err.Error(), "ccc")
}
