package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFail_EnvelopeAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "req-123")
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != ErrCodeNotFound || resp.Message != "resource not found" || resp.RequestID != "req-123" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestFail_AbortsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	reached := false
	r.GET("/abort", func(c *gin.Context) {
		fail(c, http.StatusConflict, ErrCodeConflict, "nope")
	}, func(c *gin.Context) {
		reached = true
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d", w.Code)
	}
	if reached {
		t.Fatalf("handler chain continued after fail")
	}
}

func TestOkAndNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusOK, gin.H{"a": 1}) })
	r.DELETE("/gone", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"a":1}` {
		t.Fatalf("ok = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent = %d len=%d", w.Code, w.Body.Len())
	}
}
