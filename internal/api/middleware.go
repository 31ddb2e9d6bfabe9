package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/auth"
	"github.com/gorilla/mux"
)

type contextKey string

const claimsKey contextKey = "claims"

// userID returns the authenticated player of the request
func userID(r *http.Request) string {
	if c, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return c.UserID()
	}
	return ""
}

// AuthMiddleware validates the bearer token and adds its claims to the context.
// Browsers cannot set headers on a websocket upgrade, so the token may also
// arrive as the access_token query parameter.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			// Expect "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respondError(w, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "Invalid authorization header format")
				return
			}
			token = parts[1]
		}
		if token == "" {
			respondError(w, http.StatusUnauthorized, "NO_TOKEN", "Authorization header required")
			return
		}

		claims, err := h.auth.Validate(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				respondError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired")
				return
			}
			respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware guards operator routes with a shared token
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "Operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// ObserveMiddleware logs every request and records its metrics
func (h *Handler) ObserveMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		if h.metrics != nil {
			h.metrics.HTTPRequestsInFlight.Inc()
			defer h.metrics.HTTPRequestsInFlight.Dec()
		}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := routeTemplate(r)

		if h.metrics != nil {
			h.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			h.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}

		event := h.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = h.logger.Error()
		} else if rec.status >= http.StatusBadRequest {
			event = h.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", elapsed).
			Str("user_id", userID(r)).
			Msg("HTTP request")
	})
}

// CORSMiddleware adds CORS headers for the configured origins
func (h *Handler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowOrigin(origin string) string {
	for _, o := range h.allowedOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// RecoveryMiddleware recovers from panics
func (h *Handler) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error().
					Interface("panic", err).
					Str("path", r.URL.Path).
					Msg("Recovered from panic")
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
