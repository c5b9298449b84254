package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestRequestIDEchoesCallerID(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimw.GetReqID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "till-7-0042")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if seen != "till-7-0042" {
		t.Fatalf("expected caller id in context, got %q", seen)
	}
	if got := resp.Header().Get(requestIDHeader); got != "till-7-0042" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}
}

func TestRequestIDReplacesMalformedID(t *testing.T) {
	for _, bad := range []string{"has space", "tab\tid", strings.Repeat("x", maxRequestIDLen+1)} {
		var seen string
		handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chimw.GetReqID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, bad)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen == bad || len(seen) != 36 {
			t.Fatalf("expected a minted uuid for %q, got %q", bad, seen)
		}
	}
}
