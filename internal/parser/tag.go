package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr is a single tag attribute. Names are lower-cased.
type Attr struct {
	Name  string
	Value string
}

// Tag is a parsed directive tag such as <esi:include src="..."/>.
type Tag struct {
	raw         string
	name        string
	attrs       []Attr
	closing     bool
	selfClosing bool
}

// ParseTag tokenizes a single element-style tag. Attribute values may be
// single or double quoted; order is preserved.
func ParseTag(raw string) (*Tag, error) {
	z := html.NewTokenizer(strings.NewReader(raw))
	t := &Tag{raw: raw}

	switch z.Next() {
	case html.StartTagToken:
	case html.SelfClosingTagToken:
		t.selfClosing = true
	case html.EndTagToken:
		t.closing = true
	default:
		return nil, &SyntaxError{Tag: raw, Msg: "not an element tag"}
	}

	name, hasAttr := z.TagName()
	t.name = string(name)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		t.attrs = append(t.attrs, Attr{Name: string(key), Value: string(val)})
	}
	return t, nil
}

// Name returns the lower-cased tag name including any namespace prefix.
func (t *Tag) Name() string { return t.name }

// Raw returns the tag text as found in the input.
func (t *Tag) Raw() string { return t.raw }

// Closing reports whether the tag is an end tag (</name>).
func (t *Tag) Closing() bool { return t.closing }

// SelfClosing reports whether the tag ends with "/>".
func (t *Tag) SelfClosing() bool { return t.selfClosing }

// Attrs returns the attributes in document order.
func (t *Tag) Attrs() []Attr {
	out := make([]Attr, len(t.attrs))
	copy(out, t.attrs)
	return out
}

// Attr returns the value of the named attribute.
func (t *Tag) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range t.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when absent.
func (t *Tag) AttrOr(name, def string) string {
	if v, ok := t.Attr(name); ok {
		return v
	}
	return def
}
