package driver

import (
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"esigate-go/internal/model"
)

// pageEncoding returns the encoding declared in the Content-Type charset
// parameter, or nil for UTF-8 and unknown or missing charsets.
func pageEncoding(resp *model.Response) encoding.Encoding {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil
	}
	name := strings.TrimSpace(params["charset"])
	if name == "" {
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil
	}
	if canonical, _ := htmlindex.Name(enc); canonical == "utf-8" {
		return nil
	}
	return enc
}

// decodeBody returns the body as text and the encoding to write it back
// with.
func decodeBody(resp *model.Response) (string, encoding.Encoding, error) {
	enc := pageEncoding(resp)
	if enc == nil {
		return string(resp.Body), nil, nil
	}
	b, err := enc.NewDecoder().Bytes(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return string(b), enc, nil
}

func encodeBody(s string, enc encoding.Encoding) ([]byte, error) {
	if enc == nil {
		return []byte(s), nil
	}
	// Characters the page charset cannot hold become HTML references.
	return encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Bytes([]byte(s))
}
