package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestResponse_ContentType(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"text/html; charset=UTF-8", "text/html"},
		{"Application/XHTML+XML", "application/xhtml+xml"},
		{"", ""},
	}
	for _, tt := range tests {
		r := &Response{Header: http.Header{"Content-Type": {tt.header}}}
		if got := r.ContentType(); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestResponse_CloneIsDeep(t *testing.T) {
	r := &Response{StatusCode: 200, Header: http.Header{"X-A": {"1"}}, Body: []byte("abc")}
	c := r.Clone()
	c.Header.Set("X-A", "2")
	c.Body[0] = 'z'
	if r.Header.Get("X-A") != "1" || string(r.Body) != "abc" {
		t.Errorf("original modified: header=%q body=%q", r.Header.Get("X-A"), r.Body)
	}
}

func TestErrorPage_As(t *testing.T) {
	page := &ErrorPage{URL: "http://backend/x", Response: &Response{StatusCode: 404, Header: http.Header{}}}
	err := fmt.Errorf("include: %w", page)

	var got *ErrorPage
	if !errors.As(err, &got) {
		t.Fatal("errors.As() = false, want true")
	}
	if got.StatusCode() != 404 {
		t.Errorf("StatusCode() = %d, want 404", got.StatusCode())
	}
}
