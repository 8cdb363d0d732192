// Package httpapi exposes the chat gateway over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"backend-go-chat-gateway/internal/config"
	"backend-go-chat-gateway/internal/gateway"
	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/logger"
	"backend-go-chat-gateway/internal/ratelimit"
	"backend-go-chat-gateway/internal/stream"
	"backend-go-chat-gateway/internal/tools"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

// Options are the server's collaborators. Metrics may be nil.
type Options struct {
	Gateway   *gateway.Gateway
	Executor  *tools.Executor
	Limiter   *ratelimit.Limiter
	Auth      *Authenticator
	Limits    config.LimitsConfig
	Heartbeat time.Duration
	Metrics   http.Handler
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts}
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			"http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(traceIDMiddleware)
	r.Use(authMiddleware(s.opts.Auth))
	r.Use(requestLogMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	limited := func(class string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(s.opts.Limiter, class)
	}
	r.Route("/api", func(r chi.Router) {
		r.With(limited(config.RouteChat), requireUser).Post("/chat", s.handleChat)
		r.With(limited(config.RouteScene), requireUser).Post("/scene/suggest", s.handleSceneSuggest)
		r.With(limited(config.RouteGeneral), requireUser).Get("/tools", s.handleTools)
	})
	return r
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	lg := logger.NewContextLogger(r.Context())

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "请求体不是合法的 JSON")
		return
	}
	if _, err := gateway.ValidateMessages(req.Messages, s.opts.Limits); err != nil {
		var ve *gateway.ValidationError
		if errors.As(err, &ve) {
			lg.Info("chat_request_rejected", "reason", ve.Message)
			writeJSONError(w, http.StatusBadRequest, "invalid_request", ve.Message)
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	out, err := stream.New(r.Context(), w, s.opts.Heartbeat)
	if err != nil {
		lg.Error("stream_unsupported", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	s.opts.Gateway.Handle(r.Context(), userFrom(r.Context()), req.Messages, out)
}

type sceneRequest struct {
	Scene string `json:"scene"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleSceneSuggest(w http.ResponseWriter, r *http.Request) {
	var req sceneRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "请求体不是合法的 JSON")
		return
	}
	args := map[string]any{"scene": strings.TrimSpace(req.Scene)}
	if req.Limit != 0 {
		args["limit"] = req.Limit
	}

	res := s.opts.Executor.Execute(r.Context(), tools.SuggestOutfits, args, userFrom(r.Context()))
	if !res.OK() {
		writeJSON(w, toolErrorStatus(res.Error.Kind), res.Error)
		return
	}
	writeJSON(w, http.StatusOK, res.Data)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.opts.Executor.Catalog().Definitions()})
}

func toolErrorStatus(kind tools.ErrorKind) int {
	switch kind {
	case tools.ErrInvalidArguments, tools.ErrUnknownTool:
		return http.StatusBadRequest
	case tools.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
