package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/arjunmehta-dev/threadmart-backend/api/responses"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	pkgredis "github.com/arjunmehta-dev/threadmart-backend/pkg/redis"
)

const (
	idempotencyTTL         = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

// guardedRoute pairs a chi route pattern with the replay window for
// responses recorded under it. Money-moving endpoints replay for a
// week, the rest for a day.
type guardedRoute struct {
	method string
	match  func(pattern string) bool
	ttl    time.Duration
}

var guardedRoutes = []guardedRoute{
	{http.MethodPut, exactly("/api/v1/cart"), idempotencyTTL},
	{http.MethodPost, between("/api/v1/notifications/", "/read"), idempotencyTTL},
	{http.MethodPost, exactly("/api/v1/notifications/read-all"), idempotencyTTL},
	{http.MethodPut, between("/api/v1/orders/seller/id/", "/status"), idempotencyTTL},
	{http.MethodPost, exactly("/api/v1/orders/create"), criticalIdempotencyTTL},
	{http.MethodPatch, between("/api/v1/orders/id/", "/cancel"), criticalIdempotencyTTL},
	{http.MethodPost, exactly("/api/v1/orders/verify-payment"), criticalIdempotencyTTL},
}

func exactly(path string) func(string) bool {
	return func(pattern string) bool { return pattern == path }
}

func between(prefix, suffix string) func(string) bool {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, suffix)
	}
}

func replayWindow(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, route := range guardedRoutes {
		if route.method == method && route.match(pattern) {
			return route.ttl, true
		}
	}
	return 0, false
}

// idempotencyRecord is the redis value format; field names are part of
// the stored data and must stay stable across deploys.
type idempotencyRecord struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the recorded response when a client retries a
// guarded mutation with the same Idempotency-Key and body. Reusing a key
// with a different body is rejected rather than replayed.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := replayWindow(r.Method, matchedPattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if clientKey == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			requestHash := base64.StdEncoding.EncodeToString(sum[:])
			scope := strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
			key := store.IdempotencyKey(scope, clientKey)

			replayed, err := replayIfRecorded(r.Context(), store, key, requestHash, w, logg)
			if err != nil || replayed {
				return
			}

			capture := &bufferedWriter{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			recordResponse(r.Context(), store, logg, key, requestHash, capture, ttl)
		})
	}
}

// replayIfRecorded reports true when a stored response was written to w.
// A non-nil error means the error response has already been written too.
func replayIfRecorded(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string, w http.ResponseWriter, logg *logger.Logger) (bool, error) {
	stored, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return false, err
	}
	if stored == "" {
		return false, nil
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return false, err
	}
	if record.RequestHash != requestHash {
		replayErr := pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
		responses.WriteError(ctx, logg, w, replayErr)
		return false, replayErr
	}

	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
	return true, nil
}

func recordResponse(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, key, requestHash string, capture *bufferedWriter, ttl time.Duration) {
	status := capture.status
	if status == 0 {
		status = http.StatusOK
	}
	record := idempotencyRecord{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
		RequestHash: requestHash,
	}
	if ct := capture.Header().Get("Content-Type"); ct != "" {
		record.Headers = map[string]string{"Content-Type": ct}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		if logg != nil {
			logg.Error(ctx, "marshal idempotency record", err)
		}
		return
	}
	if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil && logg != nil {
		logg.Error(ctx, "persist idempotency record", err)
	}
}

func matchedPattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type bufferedWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (b *bufferedWriter) WriteHeader(status int) {
	b.status = status
	b.ResponseWriter.WriteHeader(status)
}

func (b *bufferedWriter) Write(payload []byte) (int, error) {
	b.body.Write(payload)
	return b.ResponseWriter.Write(payload)
}
