package hubapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greese/imaginary-home-sub000/internal/relay"
	"github.com/greese/imaginary-home-sub000/internal/signature"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyPairingCode is the context key for the pairing code a claim
	// request signed its envelope with.
	ctxKeyPairingCode contextKey = "pairing_code"

	// ctxKeyRelayID is the context key for the authenticated relay id.
	ctxKeyRelayID contextKey = "relay_id"
)

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and
// duration, and records the request counter.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.requests.WithLabelValues(r.Method, strconv.Itoa(wrapped.status)).Inc()
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies to prevent
// denial-of-service attacks via oversized payloads.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects requests above the configured rate with 429.
// A nil limiter (rate limiting disabled) passes everything through.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited,
				"rate limit exceeded", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyAdmin requires the envelope to be signed by the platform principal.
//
// The administrative principal queues commands and drives the pairing flow;
// it carries no bearer token, so the canonical string omits the token element.
func (s *Server) verifyAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := signature.ParseHeader(r)
		if err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		if h.APIKey != s.secCfg.AdminAPIKey {
			s.rejectEnvelope(w, r, signature.ErrUnknownPrincipal)
			return
		}
		if err := signature.Verify(r.Method, r.URL.Path, h, s.secCfg.AdminSecret, ""); err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyPairingClaim checks the envelope of a pairing claim request.
//
// A claiming controller has no credentials yet: it signs with the pairing
// code as both the API key and the HMAC secret. This middleware only proves
// the caller knows the code it presents; whether that code is claimable is
// decided by the pairing service in the handler.
func (s *Server) verifyPairingClaim(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := signature.ParseHeader(r)
		if err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		if err := signature.Verify(r.Method, r.URL.Path, h, h.APIKey, ""); err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPairingCode, h.APIKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyRelay requires the envelope to be signed by the relay named in the
// URL, using its stored secret and current bearer token.
//
// The API key must match the path id: a relay can only ever act as itself.
func (s *Server) verifyRelay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := signature.ParseHeader(r)
		if err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		if h.APIKey != chi.URLParam(r, "id") {
			s.rejectEnvelope(w, r, signature.ErrUnknownPrincipal)
			return
		}
		s.verifyRelayCredentials(w, r, next, h, true)
	})
}

// verifyRelayNoToken is verifyRelay without the bearer token element in the
// canonical string. It protects only the token exchange endpoint, so a
// controller that lost its token (or never held one) can still obtain one.
// The path carries no relay id; the envelope API key names the relay.
func (s *Server) verifyRelayNoToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := signature.ParseHeader(r)
		if err != nil {
			s.rejectEnvelope(w, r, err)
			return
		}
		s.verifyRelayCredentials(w, r, next, h, false)
	})
}

// verifyRelayCredentials resolves the relay's stored credentials and checks
// the envelope HMAC, passing the relay id to the handler via context.
func (s *Server) verifyRelayCredentials(w http.ResponseWriter, r *http.Request, next http.Handler, h signature.Header, withToken bool) {
	secret, token, err := s.relays.Credentials(r.Context(), h.APIKey)
	if err != nil {
		if errors.Is(err, relay.ErrRelayNotFound) {
			s.rejectEnvelope(w, r, signature.ErrUnknownPrincipal)
			return
		}
		s.logger.Error("resolving relay credentials", "relay_id", h.APIKey, "error", err)
		writeInternalError(w, "credential lookup failed")
		return
	}
	if !withToken {
		token = ""
	}

	if err := signature.Verify(r.Method, r.URL.Path, h, secret, token); err != nil {
		s.rejectEnvelope(w, r, err)
		return
	}

	ctx := context.WithValue(r.Context(), ctxKeyRelayID, h.APIKey)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// rejectEnvelope logs and counts a failed envelope verification and writes
// the 401 response. The response does not distinguish failure causes.
func (s *Server) rejectEnvelope(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.authFailures.Inc()
	s.logger.Warn("envelope verification failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeUnauthorized(w, "request envelope rejected")
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
