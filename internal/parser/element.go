package parser

import "strings"

// Disposition is the outcome of an element's start handler.
type Disposition int

const (
	// Continue keeps the element active: it receives nested characters and
	// its end handler runs.
	Continue Disposition = iota
	// Suppress keeps parsing the element's body for nesting but discards it.
	// No handler of the element or of anything nested inside it runs again.
	Suppress
)

// Element is the stateful handler for one tag occurrence.
type Element interface {
	// OnTagStart runs before the element is pushed, so ctx.Current is the
	// parent.
	OnTagStart(tag string, ctx *Context) (Disposition, error)
	// OnTagEnd runs while the element is still on top of the stack.
	OnTagEnd(tag string, ctx *Context) error
	// OnError is offered errors raised by the element or anything nested in
	// it. Returning true swallows the error.
	OnError(err error, ctx *Context) bool
	// Characters receives literal text and the output of closed children.
	Characters(c Chunk) error
}

// ElementType recognizes tags of one kind and creates their elements.
type ElementType interface {
	IsStartTag(tag string) bool
	IsEndTag(tag string) bool
	IsSelfClosing(tag string) bool
	New() Element
}

// TagType is an ElementType recognized by literal, case-insensitive
// prefixes of the start and end tags.
type TagType struct {
	Start   string
	End     string
	Factory func() Element
}

// IsStartTag reports whether tag opens this element.
func (t *TagType) IsStartTag(tag string) bool { return matchPrefix(tag, t.Start) }

// IsEndTag reports whether tag closes this element.
func (t *TagType) IsEndTag(tag string) bool { return matchPrefix(tag, t.End) }

// IsSelfClosing reports whether tag ends with "/>".
func (t *TagType) IsSelfClosing(tag string) bool { return strings.HasSuffix(tag, "/>") }

// New creates a fresh element.
func (t *TagType) New() Element { return t.Factory() }

// matchPrefix checks prefix case-insensitively. A prefix ending in a name
// character must not be followed by another name character, so
// "<esi:try" does not match "<esi:tryhard".
func matchPrefix(tag, prefix string) bool {
	if prefix == "" || len(tag) < len(prefix) || !strings.EqualFold(tag[:len(prefix)], prefix) {
		return false
	}
	if len(tag) == len(prefix) || !isNameChar(prefix[len(prefix)-1]) {
		return true
	}
	return !isNameChar(tag[len(prefix)])
}

func isNameChar(c byte) bool {
	return c == '-' || c == '_' || c == ':' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// Base gives elements pass-through defaults. Embedders call Bind from
// OnTagStart to capture the parent.
type Base struct {
	Parent Element
}

// Bind records the current element as parent.
func (b *Base) Bind(ctx *Context) { b.Parent = ctx.Current() }

// OnTagStart binds the parent and continues.
func (b *Base) OnTagStart(_ string, ctx *Context) (Disposition, error) {
	b.Bind(ctx)
	return Continue, nil
}

// OnTagEnd does nothing.
func (b *Base) OnTagEnd(string, *Context) error { return nil }

// OnError declines every error.
func (b *Base) OnError(error, *Context) bool { return false }

// Characters forwards c to the parent.
func (b *Base) Characters(c Chunk) error { return b.Parent.Characters(c) }

// unknownType matches any tag. It is always tried last.
type unknownType struct{}

func (unknownType) IsStartTag(string) bool    { return true }
func (unknownType) IsEndTag(string) bool      { return false }
func (unknownType) IsSelfClosing(string) bool { return true }
func (unknownType) New() Element              { return &unknownElement{} }

// unknownElement copies tags nobody recognizes to the output verbatim.
type unknownElement struct {
	Base
}

func (e *unknownElement) OnTagStart(tag string, ctx *Context) (Disposition, error) {
	e.Bind(ctx)
	return Continue, e.Parent.Characters(Text(tag))
}
