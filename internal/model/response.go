// Package model defines types shared between the proxy layers.
package model

import (
	"fmt"
	"net/http"
	"strings"
)

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the media type without parameters, lower-cased.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{StatusCode: r.StatusCode, Header: r.Header.Clone(), Body: body}
}

// ErrorPage reports a backend error status (400 and above). It carries the
// whole response so the caller can forward it to the client verbatim.
type ErrorPage struct {
	URL      string
	Response *Response
}

func (e *ErrorPage) Error() string {
	return fmt.Sprintf("backend error page: %s returned %d", e.URL, e.Response.StatusCode)
}

// StatusCode returns the backend status.
func (e *ErrorPage) StatusCode() int { return e.Response.StatusCode }
