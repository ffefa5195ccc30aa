package esi

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"esigate-go/internal/driver"
	"esigate-go/internal/parser"
)

type regexpReplacement struct {
	re   *regexp.Regexp
	with string
}

// includeElement handles <esi:include src="..." [alt="..."]
// [onerror="continue"] [fragment="..."]>. Its body may only hold
// <esi:replace> rules.
type includeElement struct {
	parser.Base
	doc             *document
	src             string
	alt             string
	fragment        string
	continueOnError bool
	replacements    map[string]string
	regexps         []regexpReplacement
}

func (e *includeElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	e.doc = documentOf(ctx)
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	src, ok := t.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return parser.Continue, parser.Errorf(tag, "missing src attribute")
	}
	e.src = src
	e.alt = t.AttrOr("alt", "")
	e.fragment = t.AttrOr("fragment", "")
	e.continueOnError = strings.EqualFold(t.AttrOr("onerror", ""), "continue")
	return parser.Continue, nil
}

// Characters ignores the body; replace rules register themselves.
func (e *includeElement) Characters(parser.Chunk) error { return nil }

func (e *includeElement) OnTagEnd(string, *parser.Context) error {
	return e.Parent.Characters(e.doc.r.exec.Submit(e.render))
}

func (e *includeElement) addFragmentReplacement(fragment, with string) {
	if e.replacements == nil {
		e.replacements = make(map[string]string)
	}
	e.replacements[fragment] = with
}

func (e *includeElement) addRegexpReplacement(re *regexp.Regexp, with string) {
	e.regexps = append(e.regexps, regexpReplacement{re: re, with: with})
}

func (e *includeElement) render() (string, error) {
	r := e.doc.r
	s, err := e.include(e.src)
	if err != nil && e.alt != "" {
		r.logger.Debug("include failed, trying alt", "src", e.src, "alt", e.alt, "err", err)
		s, err = e.include(e.alt)
	}
	if err != nil {
		if e.continueOnError {
			r.logger.Warn("include failed, continuing", "src", e.src, "err", err)
			r.record("include", "ignored")
			return "", nil
		}
		r.record("include", "error")
		return "", err
	}
	for _, rr := range e.regexps {
		s = rr.re.ReplaceAllString(s, rr.with)
	}
	r.record("include", "ok")
	return s, nil
}

// include renders one source URL, from the inline store when a fragment
// of that name exists. Errors are wrapped so that an enclosing attempt can
// tell them from its own syntax errors.
func (e *includeElement) include(rawSrc string) (string, error) {
	req := e.doc.req
	src := resolveVariables(rawSrc, req)

	if f, ok := e.doc.r.store.Get(src); ok {
		e.doc.r.record("inline", "ok")
		return f.Content, nil
	}

	d, rel, err := target(req, src)
	if err != nil {
		return "", fmt.Errorf("include %s: %w", src, err)
	}
	child := e.doc.r.forInclude(e.fragment, e.replacements)
	s, err := d.Render(req, rel, child)
	if err != nil {
		return "", fmt.Errorf("include %s: %w", src, err)
	}
	return s, nil
}

// target picks the driver serving src. Absolute URLs under another
// provider's base go to that provider; other absolute URLs are fetched
// through the current one. Relative sources are relative to the provider
// base URL.
func target(req *driver.Request, src string) (*driver.Driver, string, error) {
	cur := req.Driver()
	if cur == nil {
		return nil, "", errors.New("no provider for request")
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, "", err
	}
	if u.IsAbs() {
		if reg := req.Registry(); reg != nil {
			if d, rel, ok := reg.ForURL(src); ok {
				return d, rel, nil
			}
		}
		return cur, src, nil
	}
	return cur, strings.TrimPrefix(src, "/"), nil
}

// replaceElement handles <esi:replace fragment="..."> and
// <esi:replace expression="...">, registering a rule on the enclosing
// include.
type replaceElement struct {
	parser.Base
	include  *includeElement
	buf      parser.Buffer
	fragment string
	re       *regexp.Regexp
}

func (e *replaceElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	fragment, hasFragment := t.Attr("fragment")
	expression, hasExpression := t.Attr("regexp")
	if !hasExpression {
		expression, hasExpression = t.Attr("expression")
	}
	if hasFragment == hasExpression {
		return parser.Continue, parser.Errorf(tag, "only one of 'fragment' and 'expression' attributes is allowed")
	}
	include, ok := parser.FindAncestor[*includeElement](ctx)
	if !ok {
		return parser.Continue, parser.Errorf(tag, "<esi:replace> tag can only be used inside an <esi:include> tag")
	}
	if hasExpression {
		re, err := regexp.Compile(expression)
		if err != nil {
			return parser.Continue, parser.Errorf(tag, "invalid expression: %v", err)
		}
		e.re = re
	}
	e.include = include
	e.fragment = fragment
	e.buf = include.doc.r.exec.NewBuffer()
	return parser.Continue, nil
}

func (e *replaceElement) Characters(c parser.Chunk) error { return e.buf.Append(c) }

func (e *replaceElement) OnTagEnd(string, *parser.Context) error {
	s, err := e.buf.Chunk().Get()
	if err != nil {
		return err
	}
	if e.re != nil {
		e.include.addRegexpReplacement(e.re, s)
	} else {
		e.include.addFragmentReplacement(e.fragment, s)
	}
	return nil
}

// fragmentElement handles <esi:fragment name="...">. Outside an include
// it only marks content. When the page is included with fragment="name"
// only that fragment is written, and fragments with a replace rule are
// substituted.
type fragmentElement struct {
	parser.Base
	doc      *document
	selected bool
}

func (e *fragmentElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	e.doc = documentOf(ctx)
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	name := t.AttrOr("name", "")
	e.selected = name != "" && name == e.doc.r.fragment

	if with, ok := e.doc.r.replacements[name]; ok && name != "" {
		return parser.Suppress, e.Characters(parser.Text(with))
	}
	return parser.Continue, nil
}

func (e *fragmentElement) Characters(c parser.Chunk) error {
	if e.selected {
		return e.doc.buf.Append(c)
	}
	return e.Parent.Characters(c)
}
