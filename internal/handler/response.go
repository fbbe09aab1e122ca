package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the body of every API response.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *TaskHandler) respondData(ctx context.Context, w http.ResponseWriter, r *http.Request, route string, status int, data any, start time.Time) {
	h.respond(ctx, w, r, route, status, envelope{Status: statusSuccess, Data: data}, start)
}

func (h *TaskHandler) respondError(ctx context.Context, w http.ResponseWriter, r *http.Request, route string, status int, message string, cause error, start time.Time) {
	body := envelope{Status: statusError, Message: message}
	if h.debug && cause != nil {
		body.Error = cause.Error()
	}
	h.respond(ctx, w, r, route, status, body, start)
}

func (h *TaskHandler) respond(ctx context.Context, w http.ResponseWriter, r *http.Request, route string, status int, body envelope, start time.Time) {
	writeJSON(w, status, body)
	h.metrics.RecordRequest(ctx, r.Method, route, status, start)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
