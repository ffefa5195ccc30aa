package httpcache

import (
	"net/http"
	"testing"
	"time"

	"esigate-go/internal/model"
)

func TestParseCacheControl(t *testing.T) {
	cc := parseCacheControl([]string{`public, Max-Age=60`, `stale-if-error="30",no-transform`})
	if !cc.has("public") || !cc.has("no-transform") {
		t.Errorf("parsed = %v, want public and no-transform", cc)
	}
	if d, ok := cc.seconds("max-age"); !ok || d != time.Minute {
		t.Errorf("max-age = %v %v, want 1m", d, ok)
	}
	if d, ok := cc.seconds("stale-if-error"); !ok || d != 30*time.Second {
		t.Errorf("stale-if-error = %v %v, want 30s", d, ok)
	}
	if _, ok := cc.seconds("public"); ok {
		t.Error("seconds(public) ok, want false")
	}
}

func TestFreshnessLifetime(t *testing.T) {
	date := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := func(t time.Time) string { return t.Format(http.TimeFormat) }

	tests := []struct {
		name      string
		header    http.Header
		heuristic bool
		want      time.Duration
	}{
		{"s-maxage wins", http.Header{"Cache-Control": {"max-age=10, s-maxage=20"}}, false, 20 * time.Second},
		{"max-age over expires", http.Header{"Cache-Control": {"max-age=10"}, "Expires": {f(date.Add(time.Hour))}, "Date": {f(date)}}, false, 10 * time.Second},
		{"expires", http.Header{"Expires": {f(date.Add(time.Hour))}, "Date": {f(date)}}, false, time.Hour},
		{"invalid expires", http.Header{"Expires": {"0"}}, false, 0},
		{"no-cache", http.Header{"Cache-Control": {"no-cache, max-age=60"}}, false, 0},
		{"heuristic", http.Header{"Last-Modified": {f(date.Add(-10 * time.Hour))}, "Date": {f(date)}}, true, time.Hour},
		{"heuristic disabled", http.Header{"Last-Modified": {f(date.Add(-10 * time.Hour))}, "Date": {f(date)}}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := freshnessLifetime(tt.header, date, tt.heuristic); got != tt.want {
				t.Errorf("freshnessLifetime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCurrentAge(t *testing.T) {
	date := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{
		Response: &model.Response{StatusCode: 200, Header: http.Header{
			"Date": {date.Format(http.TimeFormat)},
			"Age":  {"30"},
		}},
		RequestTime:  date.Add(2 * time.Second),
		ResponseTime: date.Add(5 * time.Second),
	}
	// corrected initial age = max(5s, 30s + 3s) = 33s; resident = 10s.
	if got := currentAge(e, date.Add(15*time.Second)); got != 43*time.Second {
		t.Errorf("currentAge() = %v, want 43s", got)
	}
}
