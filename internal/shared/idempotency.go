package shared

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumapay/lumapay/internal/platform/cache"
	"github.com/lumapay/lumapay/internal/platform/httpx"
)

const (
	// DefaultIdempotencyHeader is the client-supplied token header.
	DefaultIdempotencyHeader = "idempotency-key"

	stateProcessing = "processing"
	stateCompleted  = "completed"
)

// IdempotencyOptions configures the request guard.
type IdempotencyOptions struct {
	Header string
	TTL    time.Duration
	// FailOpen executes the handler without protection when the cache backend
	// is unreachable. This trades strict idempotency for availability: under a
	// cache outage a retried request may run its side effect twice.
	FailOpen bool
}

// IdempotencyGuard makes side-effecting requests safe against client retries.
// Per (method, path, token) key the guard runs a three-state protocol:
// absent -> processing -> completed, rolling back to absent when the handler
// fails so the client may retry.
type IdempotencyGuard struct {
	cache  *cache.Keyed
	opts   IdempotencyOptions
	logger *slog.Logger
}

// NewIdempotencyGuard constructs the guard.
func NewIdempotencyGuard(c *cache.Keyed, opts IdempotencyOptions, logger *slog.Logger) *IdempotencyGuard {
	if opts.Header == "" {
		opts.Header = DefaultIdempotencyHeader
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &IdempotencyGuard{cache: c, opts: opts, logger: logger}
}

type idempotencyRecord struct {
	State       string `json:"state"`
	Code        int    `json:"code"`
	Body        []byte `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type replayRecorder struct {
	http.ResponseWriter
	code int
	body bytes.Buffer
}

func (r *replayRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *replayRecorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// Middleware wraps a side-effecting handler with the retry protocol.
func (g *IdempotencyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(g.opts.Header)
		if token == "" {
			httpx.Problem(w, http.StatusBadRequest, "Missing Idempotency Key", ErrIdempotencyKeyMissing.Error())
			return
		}

		key := cache.GenerateKey("idem", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"token":  token,
		})

		ctx := r.Context()
		won, err := g.cache.SetNX(ctx, key, idempotencyRecord{State: stateProcessing}, g.opts.TTL)
		if err != nil {
			g.degrade(w, r, next, err)
			return
		}
		if !won {
			var rec idempotencyRecord
			found, err := g.cache.Get(ctx, key, &rec)
			if err != nil {
				g.degrade(w, r, next, err)
				return
			}
			if found && rec.State == stateCompleted {
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.WriteHeader(rec.Code)
				_, _ = w.Write(rec.Body)
				return
			}
			// Marker expired between SetNX and Get, or a twin request is
			// still running. Either way the caller should retry later.
			httpx.Problem(w, http.StatusConflict, "Request In Flight", ErrRequestInFlight.Error())
			return
		}

		recorder := &replayRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if recorder.code >= http.StatusBadRequest {
			// Nothing was committed, so there is nothing to protect. Roll
			// back the marker so a client that fixes its request may retry
			// under the same token instead of replaying the rejection.
			if err := g.cache.Delete(ctx, key); err != nil && g.logger != nil {
				g.logger.Warn("idempotency rollback failed", slog.String("key", key), slog.Any("error", err))
			}
			return
		}

		record := idempotencyRecord{
			State:       stateCompleted,
			Code:        recorder.code,
			Body:        recorder.body.Bytes(),
			ContentType: recorder.Header().Get("Content-Type"),
		}
		if err := g.cache.Set(ctx, key, record, g.opts.TTL); err != nil && g.logger != nil {
			g.logger.Warn("idempotency record store failed", slog.String("key", key), slog.Any("error", err))
		}
	})
}

func (g *IdempotencyGuard) degrade(w http.ResponseWriter, r *http.Request, next http.Handler, cause error) {
	if g.opts.FailOpen {
		if g.logger != nil {
			g.logger.Warn("idempotency cache unavailable, failing open", slog.Any("error", cause))
		}
		next.ServeHTTP(w, r)
		return
	}
	httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "idempotency backend unreachable")
}
