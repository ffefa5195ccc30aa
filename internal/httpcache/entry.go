package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"esigate-go/internal/model"
)

// Meta headers carried inside serialized entries.
const (
	requestTimeHeader  = "X-Esigate-Request-Time"
	responseTimeHeader = "X-Esigate-Response-Time"
	varyHeader         = "X-Esigate-Vary"
)

// Entry is a stored response with the clock values needed for age
// calculation.
type Entry struct {
	Response *model.Response
	// RequestTime is when the request that produced Response was sent.
	RequestTime time.Time
	// ResponseTime is when Response was received.
	ResponseTime time.Time
	// Vary holds the request header values selected by the response's Vary.
	Vary url.Values
}

func encodeEntry(e *Entry) ([]byte, error) {
	h := e.Response.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(requestTimeHeader, strconv.FormatInt(e.RequestTime.UnixMilli(), 10))
	h.Set(responseTimeHeader, strconv.FormatInt(e.ResponseTime.UnixMilli(), 10))
	if len(e.Vary) > 0 {
		h.Set(varyHeader, e.Vary.Encode())
	}

	res := &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Response.StatusCode, http.StatusText(e.Response.StatusCode)),
		StatusCode:    e.Response.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Response.Body)),
		ContentLength: int64(len(e.Response.Body)),
	}
	var buf bytes.Buffer
	if err := res.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) (*Entry, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry body: %w", err)
	}

	reqTime, err := strconv.ParseInt(res.Header.Get(requestTimeHeader), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: request time: %w", err)
	}
	respTime, err := strconv.ParseInt(res.Header.Get(responseTimeHeader), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: response time: %w", err)
	}
	vary, err := url.ParseQuery(res.Header.Get(varyHeader))
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: vary: %w", err)
	}
	for _, name := range []string{requestTimeHeader, responseTimeHeader, varyHeader} {
		res.Header.Del(name)
	}

	return &Entry{
		Response: &model.Response{
			StatusCode: res.StatusCode,
			Header:     res.Header,
			Body:       body,
		},
		RequestTime:  time.UnixMilli(reqTime),
		ResponseTime: time.UnixMilli(respTime),
		Vary:         vary,
	}, nil
}

// varyNames returns the lower-cased header names listed in Vary.
func varyNames(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, strings.ToLower(name))
			}
		}
	}
	return names
}

// selectVary captures the request header values a response varies on.
func selectVary(resp http.Header, req http.Header) url.Values {
	names := varyNames(resp)
	if len(names) == 0 {
		return nil
	}
	v := url.Values{}
	for _, name := range names {
		v.Set(name, strings.Join(req.Values(name), ","))
	}
	return v
}

// matchesVary reports whether req selects the same variant as e.
func (e *Entry) matchesVary(req http.Header) bool {
	for _, name := range varyNames(e.Response.Header) {
		if e.Vary.Get(name) != strings.Join(req.Values(name), ",") {
			return false
		}
	}
	return true
}
