package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheControl holds parsed Cache-Control directives keyed by lower-cased
// name.
type cacheControl map[string]string

func parseCacheControl(headers []string) cacheControl {
	cc := cacheControl{}
	// Last occurrence of a directive wins.
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			cc[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), `"`)
		}
	}
	return cc
}

func (cc cacheControl) has(name string) bool {
	_, ok := cc[name]
	return ok
}

// seconds returns a delta-seconds directive argument.
func (cc cacheControl) seconds(name string) (time.Duration, bool) {
	v, ok := cc[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// mustRevalidate reports whether stale serving is forbidden.
func (cc cacheControl) mustRevalidate() bool {
	return cc.has("must-revalidate") || cc.has("proxy-revalidate") || cc.has("no-cache")
}

func dateValue(h http.Header, fallback time.Time) time.Time {
	if t, err := http.ParseTime(h.Get("Date")); err == nil {
		return t
	}
	return fallback
}

// freshnessLifetime computes how long a response stays fresh from its
// headers: s-maxage, then max-age, then Expires, then a heuristic on
// Last-Modified when enabled.
func freshnessLifetime(h http.Header, responseTime time.Time, heuristic bool) time.Duration {
	cc := parseCacheControl(h.Values("Cache-Control"))
	if cc.has("no-cache") {
		return 0
	}
	if d, ok := cc.seconds("s-maxage"); ok {
		return d
	}
	if d, ok := cc.seconds("max-age"); ok {
		return d
	}
	date := dateValue(h, responseTime)
	if raw := h.Get("Expires"); raw != "" {
		expires, err := http.ParseTime(raw)
		if err != nil {
			// Invalid dates, such as "0", mean already expired.
			return 0
		}
		return max(0, expires.Sub(date))
	}
	if heuristic {
		if lm, err := http.ParseTime(h.Get("Last-Modified")); err == nil && lm.Before(date) {
			return date.Sub(lm) / 10
		}
	}
	return 0
}

// currentAge follows the age calculation of RFC 9111 section 4.2.3.
func currentAge(e *Entry, now time.Time) time.Duration {
	h := e.Response.Header
	apparentAge := max(0, e.ResponseTime.Sub(dateValue(h, e.ResponseTime)))

	var ageValue time.Duration
	if n, err := strconv.ParseInt(strings.TrimSpace(h.Get("Age")), 10, 64); err == nil && n > 0 {
		ageValue = time.Duration(n) * time.Second
	}
	responseDelay := e.ResponseTime.Sub(e.RequestTime)
	correctedAgeValue := ageValue + responseDelay
	correctedInitialAge := max(apparentAge, correctedAgeValue)
	residentTime := now.Sub(e.ResponseTime)
	return correctedInitialAge + residentTime
}

func hasValidators(h http.Header) bool {
	return h.Get("ETag") != "" || h.Get("Last-Modified") != ""
}

func isConditional(h http.Header) bool {
	return h.Get("If-None-Match") != "" || h.Get("If-Modified-Since") != ""
}

// notModified evaluates the client's conditional headers against a
// response. If-None-Match takes precedence over If-Modified-Since.
func notModified(req, resp http.Header) bool {
	if inm := req.Get("If-None-Match"); inm != "" {
		etag := resp.Get("ETag")
		if etag == "" {
			return false
		}
		for _, candidate := range strings.Split(inm, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || weakTag(candidate) == weakTag(etag) {
				return true
			}
		}
		return false
	}
	ims, err := http.ParseTime(req.Get("If-Modified-Since"))
	if err != nil {
		return false
	}
	lm, err := http.ParseTime(resp.Get("Last-Modified"))
	if err != nil {
		return false
	}
	return !lm.After(ims)
}

func weakTag(tag string) string {
	return strings.TrimPrefix(tag, "W/")
}
