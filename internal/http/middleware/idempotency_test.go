package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

func newIdemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/things", func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{
			"key":    key,
			"scope":  GetIdempotencyScope(c),
			"replay": IsReplay(c),
			"bypass": IsRateBypass(c),
		})
	})
	return r
}

func TestIdempotencyValidator_NoHeaderIsNoop(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/things", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"key":""`) {
		t.Fatalf("no key should be stashed: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_RejectsMalformedKey(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{MaxLen: 10}, nil)

	for _, key := range []string{"has spaces", "bad/slash", "0123456789x"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/things", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status = %d, want 400", key, w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: body = %s", key, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_RejectsUnknownScope(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	req.Header.Set(HeaderIdempotencyScope, "galaxy")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bad_idempotency_scope") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestIdempotencyValidator_StashesKeyAndDefaultScope(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set(HeaderIdempotencyKey, "order-42")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"key":"order-42"`) || !strings.Contains(body, `"scope":"`+domain.ScopeUser+`"`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, `"replay":false`) {
		t.Fatalf("no lookup configured, replay must be false: %s", body)
	}
}

func TestIdempotencyValidator_ScopeIsNormalized(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-7")
	req.Header.Set(HeaderIdempotencyScope, " Device ")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"scope":"device"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestIdempotencyValidator_LookupMarksReplayAndRateBypass(t *testing.T) {
	var gotKey, gotScope string
	lookup := func(_ context.Context, key, scope string, now time.Time) (bool, error) {
		gotKey, gotScope = key, scope
		if now.IsZero() {
			t.Fatal("lookup now not populated")
		}
		return true, nil
	}
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-9")
	req.Header.Set(HeaderIdempotencyScope, "task")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotKey != "k-9" || gotScope != "task" {
		t.Fatalf("lookup saw key=%q scope=%q", gotKey, gotScope)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"replay":true`) || !strings.Contains(body, `"bypass":true`) {
		t.Fatalf("replay flags not set: %s", body)
	}
}

func TestIdempotencyValidator_LookupMissKeepsReplayFalse(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) { return false, nil }
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set(HeaderIdempotencyKey, "fresh-key")
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGetIdempotencyScope_DefaultWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := GetIdempotencyScope(c); got != domain.ScopeUser {
		t.Fatalf("scope default = %q", got)
	}
}
