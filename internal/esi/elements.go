package esi

import (
	"esigate-go/internal/parser"
)

// varsElement substitutes ESI variables in everything written inside it.
type varsElement struct {
	parser.Base
	doc *document
}

func (e *varsElement) OnTagStart(_ string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	e.doc = documentOf(ctx)
	return parser.Continue, nil
}

func (e *varsElement) Characters(c parser.Chunk) error {
	if t, ok := c.(parser.Text); ok {
		return e.Parent.Characters(parser.Text(resolveVariables(string(t), e.doc.req)))
	}
	return e.Parent.Characters(parser.Lazy(func() (string, error) {
		s, err := c.Get()
		if err != nil {
			return "", err
		}
		return resolveVariables(s, e.doc.req), nil
	}))
}

// inlineElement stores its body in the inline store under its name and
// writes nothing.
type inlineElement struct {
	parser.Base
	doc       *document
	name      string
	fetchable bool
	buf       parser.Buffer
}

func (e *inlineElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	e.doc = documentOf(ctx)
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	name, ok := t.Attr("name")
	if !ok || name == "" {
		return parser.Continue, parser.Errorf(tag, "missing name attribute")
	}
	e.name = name
	e.fetchable = t.AttrOr("fetchable", "") == "yes"
	e.buf = e.doc.r.exec.NewBuffer()
	return parser.Continue, nil
}

func (e *inlineElement) Characters(c parser.Chunk) error { return e.buf.Append(c) }

func (e *inlineElement) OnTagEnd(string, *parser.Context) error {
	s, err := e.buf.Chunk().Get()
	if err != nil {
		return err
	}
	e.doc.r.store.Store(Fragment{
		Name:        e.name,
		Fetchable:   e.fetchable,
		OriginalURL: e.doc.req.Original.URL.Path,
		Content:     s,
	})
	e.doc.r.record("inline", "stored")
	return nil
}
