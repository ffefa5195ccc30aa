package esi

import (
	"errors"
	"strconv"

	"esigate-go/internal/model"
	"esigate-go/internal/parser"
)

// tryElement holds the outcome of its attempt for the except branches
// that follow. Its own text between branches is dropped.
type tryElement struct {
	parser.Base
	hasErrors       bool
	errorCode       int
	exceptProcessed bool
	write           bool
}

func (e *tryElement) Characters(c parser.Chunk) error {
	if !e.write {
		return nil
	}
	return e.Parent.Characters(c)
}

// attemptElement buffers its body and writes it only if nothing inside
// failed.
type attemptElement struct {
	parser.Base
	try    *tryElement
	doc    *document
	buf    parser.Buffer
	failed bool
}

func (e *attemptElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	try, ok := parser.FindAncestor[*tryElement](ctx)
	if !ok {
		return parser.Continue, parser.Errorf(tag, "<esi:attempt> tag can only be used inside an <esi:try> tag")
	}
	e.try = try
	e.doc = documentOf(ctx)
	e.buf = e.doc.r.exec.NewBuffer()
	return parser.Continue, nil
}

func (e *attemptElement) Characters(c parser.Chunk) error {
	if e.failed {
		return nil
	}
	return e.buf.Append(c)
}

// OnError accepts everything but the syntax errors of the page itself.
func (e *attemptElement) OnError(err error, _ *parser.Context) bool {
	if _, ok := err.(*parser.SyntaxError); ok {
		return false
	}
	if !e.failed {
		e.fail(err)
	}
	return true
}

func (e *attemptElement) OnTagEnd(string, *parser.Context) error {
	if e.failed {
		return nil
	}
	s, err := e.buf.Chunk().Get()
	if err != nil {
		if _, ok := err.(*parser.SyntaxError); ok {
			return err
		}
		e.fail(err)
		return nil
	}
	e.try.write = true
	defer func() { e.try.write = false }()
	return e.Parent.Characters(parser.Text(s))
}

func (e *attemptElement) fail(err error) {
	e.failed = true
	e.try.hasErrors = true
	e.try.errorCode = 0
	var page *model.ErrorPage
	if errors.As(err, &page) {
		e.try.errorCode = page.StatusCode()
	}
	e.doc.r.logger.Debug("esi:attempt failed", "code", e.try.errorCode, "err", err)
}

// exceptElement writes its body when the attempt failed with a matching
// code, or with any error when code is absent. At most one except per try
// is written.
type exceptElement struct {
	parser.Base
	try *tryElement
}

func (e *exceptElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	try, ok := parser.FindAncestor[*tryElement](ctx)
	if !ok {
		return parser.Continue, parser.Errorf(tag, "<esi:except> tag can only be used inside an <esi:try> tag")
	}
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	code := -1
	if v, ok := t.Attr("code"); ok {
		if code, err = strconv.Atoi(v); err != nil {
			return parser.Continue, parser.Errorf(tag, "invalid code %q", v)
		}
	}

	if !try.hasErrors || try.exceptProcessed || (code != -1 && code != try.errorCode) {
		return parser.Suppress, nil
	}
	try.exceptProcessed = true
	try.write = true
	e.try = try
	return parser.Continue, nil
}

func (e *exceptElement) OnTagEnd(string, *parser.Context) error {
	e.try.write = false
	return nil
}
