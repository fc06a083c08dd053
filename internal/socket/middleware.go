package socket

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorResponse is the response body for any errors that occur.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes an error as an ErrorResponse (JSON-encoded). The err
// value is converted to a string with fmt.Sprint.
func WriteError(w http.ResponseWriter, err any, code int) error {
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(ErrorResponse{Error: fmt.Sprint(err)})
}

// LoggerMiddleware logs all requests (method, URL, and handle time) with the
// formatted logging function (logf).
func LoggerMiddleware(prefix string, logf func(f string, v ...any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := time.Now()
			next.ServeHTTP(w, r)
			logf("%s:\t%s\t%s\t%s", prefix, r.Method, r.URL.Path, time.Since(t))
		})
	}
}

// HeadersMiddleware is a middleware that sets common headers for all
// responses.
func HeadersMiddleware(headers http.Header) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range headers {
				h[k] = v
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware rejects requests that don't carry the expected token as a
// Bearer token in the Authorization header. Errors are reported with errf.
func AuthMiddleware(token string, errf func(f string, v ...any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				err := errors.New("authorization header is required")
				if err := WriteError(w, err, http.StatusUnauthorized); err != nil {
					errf("Couldn't write error: %v", err)
				}
				return
			}

			authType, reqToken, found := strings.Cut(auth, " ")
			if !found || authType != "Bearer" {
				err := errors.New("invalid authorization header: must be in the form `Bearer <token>`")
				if err := WriteError(w, err, http.StatusUnauthorized); err != nil {
					errf("Couldn't write error: %v", err)
				}
				return
			}

			if reqToken != token {
				err := errors.New("invalid authorization token")
				if err := WriteError(w, err, http.StatusUnauthorized); err != nil {
					errf("Couldn't write error: %v", err)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GenerateToken generates a new random token that contains approximately
// 8*len bits of entropy.
func GenerateToken(len int) (string, error) {
	b := make([]byte, len)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading from random: %w", err)
	}

	// Trim the padding because it's not valid in env vars.
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}
