package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/medchat/internal/chat"
)

const maxRequestBodySize = 1 << 20 // 1MB

// EngineProbe reports whether the model service is reachable.
type EngineProbe interface {
	Up(ctx context.Context) bool
}

// Deps holds the collaborators of the HTTP handler.
type Deps struct {
	Service *chat.Service
	Probe   EngineProbe // optional; /health reports "unknown" without it
}

// NewHandler returns the HTTP surface: POST /chat and GET /health. Any
// origin may call it; credentials are not allowed.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(deps))
	r.Post("/chat", handleChat(deps.Service))

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Engine string `json:"engine"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := "unknown"
		if deps.Probe != nil {
			engine = "down"
			if deps.Probe.Up(r.Context()) {
				engine = "up"
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Model:  deps.Service.Model(),
			Engine: engine,
		})
	}
}

func handleChat(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); errors.Is(err, io.EOF) {
			// An empty body carries no message at all.
			httpError(w, http.StatusBadRequest, "%s", chat.ErrNoInput.Error())
			return
		} else if err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "%s", err.Error())
			return
		}

		text, err := svc.Complete(r.Context(), *req.Message)
		if err != nil {
			var ie *chat.InferenceError
			switch {
			case errors.Is(err, chat.ErrNoInput):
				httpError(w, http.StatusBadRequest, "%s", err.Error())
			case errors.As(err, &ie):
				slog.Error("inference failed", "request_id", middleware.GetReqID(r.Context()), "error", ie.Err)
				httpError(w, http.StatusInternalServerError, "%s", ie.Error())
			default:
				httpError(w, http.StatusInternalServerError, "%s", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, chat.Response{Response: text})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, chat.ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// accessLog writes one structured line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
