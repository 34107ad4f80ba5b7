package api

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/nerrad567/machine-allocator/internal/machine"
)

// healthTimeout bounds each component check on /health.
const healthTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: orDefault(s.cfg.CORS.AllowedOrigins, []string{"*"}),
		AllowedMethods: orDefault(s.cfg.CORS.AllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		AllowedHeaders: orDefault(s.cfg.CORS.AllowedHeaders, []string{"Authorization", "Content-Type", "X-Request-ID"}),
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400, //nolint:mnd // one day
	}))
	r.Use(s.bodySizeLimitMiddleware)

	// Health and metrics need no token.
	r.Get("/health", s.handleHealth)
	if s.metricsCfg.Enabled {
		r.Method(http.MethodGet, s.metricsCfg.Path, s.metricsHandler)
	}

	// Everything else goes through the dispatcher, which authorizes first
	// and answers unmatched routes itself.
	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit.RequestsPerMinute, time.Minute))
		}
		if s.wsCfg.Enabled {
			r.Get(s.wsCfg.Path, s.handleWebSocket)
		}
		r.HandleFunc("/*", s.handleDispatch)
	})
	r.NotFound(s.handleDispatch)
	r.MethodNotAllowed(s.handleDispatch)

	return r
}

// handleDispatch adapts an HTTP request onto Router.Dispatch.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeResult(w, machine.Result{StatusCode: machine.CodeBadRequest})
			return
		}
	}

	res, err := s.router.Dispatch(r.Context(), Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Token:  bearerToken(r),
		Body:   body,
	})
	if err != nil {
		writeAuthorizationError(w, err)
		return
	}
	writeResult(w, res)
}

// handleHealth checks every registered component.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// A bare token without the scheme is accepted too.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return h
}

func orDefault(values, defaults []string) []string {
	if len(values) == 0 {
		return defaults
	}
	return values
}
