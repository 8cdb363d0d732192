package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"backend-go-chat-gateway/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// traceIDMiddleware takes the trace id from the request header or makes one,
// echoes it back and puts it in the context.
func traceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(string(logger.TraceIDKey))
		if traceID == "" {
			traceID = uuid.New().String()
		}
		w.Header().Set(string(logger.TraceIDKey), traceID)
		ctx := context.WithValue(r.Context(), logger.TraceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogMiddleware logs one line per request.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.NewContextLogger(r.Context()).Info(
			"http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
