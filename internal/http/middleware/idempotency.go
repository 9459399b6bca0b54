// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods (e.g., POST).
// It validates the Idempotency-Key and Idempotency-Scope request headers,
// optionally performs a user-defined lookup to detect previously committed
// requests, and annotates the request context so downstream handlers can:
//   - read the normalized key and scope (GetIdempotencyKey, GetIdempotencyScope)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Design goals:
//   - Keep transport concerns (validation, context stashing) in middleware.
//   - Decouple persistence via a narrow IdempotencyLookup function type.
//     Admission itself (insert-or-fetch, conflict detection) stays in the
//     service layer; the middleware only classifies the request shape.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
//
// The value is expected to be stable for a given semantic operation so that
// retries (network, client, or server initiated) can be safely deduplicated.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyScope selects the dedup namespace for the key. Valid
// values are "user", "device", and "task"; absent defaults to "user".
const HeaderIdempotencyScope = "Idempotency-Scope"

// Context keys used internally to stash idempotency state.
// These keys are intentionally unexported and referenced via accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
//
// Handlers should prefer this function over reading the header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// GetIdempotencyScope returns the validated scope for this request's key.
// Defaults to "user" when the key is present but no scope header was sent.
func GetIdempotencyScope(c *gin.Context) string {
	v, ok := c.Get(ctxKeyIdemScope)
	if !ok {
		return domain.ScopeUser
	}
	s, _ := v.(string)
	if s == "" {
		return domain.ScopeUser
	}
	return s
}

// IsReplay reports whether the middleware detected that this request would
// replay a previously committed operation (based on the provided key/scope).
//
// When true, upstream components (e.g., rate limiters) may choose to
// short-circuit computation; the handler still serves the stored snapshot
// through the admission service.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation behavior for
// IdempotencyValidator. TTL enforcement is intentionally out of scope here and
// is implemented by the admission service.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a committed, still-valid result exists for
// (key, scope) at the given time. Implementations typically consult the
// idempotency record's snapshot and TTL window.
//
// Return exists=true when the prior response can be replayed; return an error
// only for lookup failures (which should not block normal processing).
type IdempotencyLookup func(ctx context.Context, key, scope string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key and Idempotency-Scope
// headers (if present), stashes them in the request context, and optionally
// checks for a prior committed request via the supplied lookup. When a replay
// is detected, it marks the context so downstream components can:
//   - detect replay via IsReplay
//   - bypass rate limiting (internal flag checked by the RL middleware)
//
// Behavior:
//   - If the key header is absent: the middleware is a no-op.
//   - If the key or scope fails validation: responds 400 with a compact body.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
//   - Always invokes the next handler unless validation fails.
//
// This middleware does not itself return a cached payload; handlers serve
// replays through the admission service so the response bytes stay exact.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	// Sensible defaults.
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		// RFC-7230-ish token + common safe chars.
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			// Nothing to validate or stash; proceed.
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		scope := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderIdempotencyScope)))
		if scope == "" {
			scope = domain.ScopeUser
		}
		if !domain.ValidScope(scope) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_scope",
				"message": "Idempotency-Scope must be one of: user, device, task",
			})
			return
		}

		// Stash the normalized key and scope for downstream use.
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		// If we can detect a previously committed response, mark replay + rate bypass.
		if lookup != nil {
			now := time.Now().UTC()
			if exists, _ := lookup(c.Request.Context(), key, scope, now); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true) // let RL middleware skip limiting
			}
		}

		c.Next()
	}
}
