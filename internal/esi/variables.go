package esi

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"esigate-go/internal/driver"
)

// variablePattern matches $(NAME), $(NAME{key}) and an optional |default.
var variablePattern = regexp.MustCompile(`\$\(([A-Z_]+)(?:\{([^}]*)\})?(?:\|([^)]*))?\)`)

// resolveVariables replaces every ESI variable reference in s.
func resolveVariables(s string, req *driver.Request) string {
	if !strings.Contains(s, "$(") {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(ref string) string {
		return lookupReference(ref, req)
	})
}

func lookupReference(ref string, req *driver.Request) string {
	m := variablePattern.FindStringSubmatch(ref)
	if v, ok := variable(m[1], m[2], req); ok {
		return v
	}
	return unquote(m[3])
}

// variable returns the value of ESI variable name, optionally narrowed to
// key. ok is false when the value is missing.
func variable(name, key string, req *driver.Request) (string, bool) {
	r := req.Original
	switch name {
	case "HTTP_COOKIE":
		if key == "" {
			v := r.Header.Get("Cookie")
			return v, v != ""
		}
		c, err := r.Cookie(key)
		if err != nil {
			return "", false
		}
		return c.Value, true
	case "HTTP_HOST":
		return r.Host, r.Host != ""
	case "HTTP_REFERER":
		v := r.Header.Get("Referer")
		return v, v != ""
	case "HTTP_USER_AGENT":
		ua := r.Header.Get("User-Agent")
		if ua == "" {
			return "", false
		}
		return userAgent(ua, key), true
	case "HTTP_ACCEPT_LANGUAGE":
		al := r.Header.Get("Accept-Language")
		if key == "" {
			return al, al != ""
		}
		if acceptsLanguage(al, key) {
			return "true", true
		}
		return "false", true
	case "QUERY_STRING":
		if key == "" {
			return r.URL.RawQuery, r.URL.RawQuery != ""
		}
		values, ok := r.URL.Query()[key]
		if !ok || len(values) == 0 {
			return "", false
		}
		return values[0], true
	case "HTTP_HEADER":
		v := r.Header.Get(key)
		return v, v != ""
	case "PROVIDER":
		reg := req.Registry()
		if reg == nil {
			return "", false
		}
		d, ok := reg.Get(key)
		if !ok {
			return "", false
		}
		return strings.TrimSuffix(d.Config().RemoteURLBase[0], "/"), true
	}
	return "", false
}

// acceptsLanguage reports whether header lists a language with the same
// base language as lang.
func acceptsLanguage(header, lang string) bool {
	want, err := language.Parse(lang)
	if err != nil {
		return false
	}
	wantBase, _ := want.Base()
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return false
	}
	for _, t := range tags {
		if b, _ := t.Base(); b == wantBase {
			return true
		}
	}
	return false
}

func userAgent(ua, key string) string {
	lower := strings.ToLower(ua)
	switch key {
	case "browser":
		switch {
		case strings.Contains(lower, "msie"), strings.Contains(lower, "trident/"):
			return "MSIE"
		case strings.Contains(lower, "mozilla"):
			return "MOZILLA"
		}
		return "OTHER"
	case "os":
		switch {
		case strings.Contains(lower, "windows"):
			return "WIN"
		case strings.Contains(lower, "mac"):
			return "MAC"
		case strings.Contains(lower, "linux"), strings.Contains(lower, "unix"), strings.Contains(lower, "bsd"):
			return "UNIX"
		}
		return "OTHER"
	case "version":
		if i := strings.IndexByte(ua, '/'); i >= 0 {
			v := ua[i+1:]
			if j := strings.IndexByte(v, ' '); j >= 0 {
				v = v[:j]
			}
			return v
		}
		return ""
	}
	return ua
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
