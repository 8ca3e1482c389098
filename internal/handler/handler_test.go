package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "Key not found", map[string]interface{}{"id": 7})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != float64(404) || errObj["message"] != "Key not found" {
		t.Errorf("error envelope: %v", errObj)
	}
	ctx, _ := errObj["context"].(map[string]any)
	if ctx["id"] != float64(7) {
		t.Errorf("context: %v", ctx)
	}
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?user_id=42&active_only=true&bad=x", nil)

	if got := queryInt64(r, "user_id", 0); got != 42 {
		t.Errorf("queryInt64: got %d", got)
	}
	if got := queryInt64(r, "bad", 9); got != 9 {
		t.Errorf("queryInt64 fallback: got %d", got)
	}
	if got := queryInt64(r, "missing", 7); got != 7 {
		t.Errorf("queryInt64 missing: got %d", got)
	}
	if !queryBool(r, "active_only") {
		t.Error("queryBool: expected true")
	}
	if queryBool(r, "missing") {
		t.Error("queryBool missing: expected false")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.1.2.3:54321", "10.1.2.3"},
		{"[::1]:8080", "::1"},
		{"10.1.2.3", "10.1.2.3"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := clientIP(r); got != tt.want {
			t.Errorf("clientIP(%q): got %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
