package aggregator

import (
	"strings"

	"esigate-go/internal/driver"
	"esigate-go/internal/parser"
)

// blockElement handles <!--$beginblock$name$-->. The block whose name is
// requested writes straight to the output.
type blockElement struct {
	parser.Base
	doc     *root
	matches bool
}

func (e *blockElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	parts, err := directive(tag, 2)
	if err != nil {
		return parser.Continue, err
	}
	e.doc = rootOf(ctx)
	e.matches = e.doc.name != "" && parts[1] == e.doc.name
	return parser.Continue, nil
}

func (e *blockElement) Characters(c parser.Chunk) error {
	if e.matches {
		return e.doc.buf.Append(c)
	}
	return e.Parent.Characters(c)
}

// templateElement handles <!--$begintemplate$name$-->.
type templateElement struct {
	parser.Base
	doc     *root
	matches bool
}

func (e *templateElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	parts, err := directive(tag, 2)
	if err != nil {
		return parser.Continue, err
	}
	e.doc = rootOf(ctx)
	e.matches = e.doc.name != "" && parts[1] == e.doc.name
	return parser.Continue, nil
}

func (e *templateElement) Characters(c parser.Chunk) error {
	if e.matches {
		return e.doc.buf.Append(c)
	}
	return e.Parent.Characters(c)
}

// paramElement handles <!--$beginparam$name$-->. Inside the requested
// template, or outside any template, a supplied value replaces the body;
// otherwise the body is the default.
type paramElement struct {
	parser.Base
}

func (e *paramElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	parts, err := directive(tag, 2)
	if err != nil {
		return parser.Continue, err
	}
	tmpl, inTemplate := parser.FindAncestor[*templateElement](ctx)
	if inTemplate && !tmpl.matches {
		return parser.Continue, nil
	}
	value, ok := rootOf(ctx).params[parts[1]]
	if !ok {
		return parser.Continue, nil
	}
	return parser.Suppress, e.Parent.Characters(parser.Text(value))
}

// includeBlockElement handles
// <!--$includeblock$provider$page[$name]$-->...<!--$endincludeblock$-->.
// The body is ignored.
type includeBlockElement struct {
	parser.Base
}

func (e *includeBlockElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	d, page, name, err := includeTarget(tag, rootOf(ctx).req)
	if err != nil {
		return parser.Continue, err
	}
	s, err := d.Render(rootOf(ctx).req, page, &BlockRenderer{Name: name}, &AggregateRenderer{})
	if err != nil {
		return parser.Continue, err
	}
	return parser.Suppress, e.Parent.Characters(parser.Text(s))
}

// includeTemplateElement handles
// <!--$includetemplate$provider$page[$name]$-->...<!--$endincludetemplate$-->.
// Its body holds put directives supplying the template params.
type includeTemplateElement struct {
	parser.Base
	req    *driver.Request
	driver *driver.Driver
	page   string
	name   string
	params map[string]string
}

func (e *includeTemplateElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	e.req = rootOf(ctx).req
	d, page, name, err := includeTarget(tag, e.req)
	if err != nil {
		return parser.Continue, err
	}
	e.driver, e.page, e.name = d, page, name
	e.params = make(map[string]string)
	return parser.Continue, nil
}

func (e *includeTemplateElement) Characters(parser.Chunk) error { return nil }

func (e *includeTemplateElement) OnTagEnd(string, *parser.Context) error {
	s, err := e.driver.Render(e.req, e.page, &TemplateRenderer{Name: e.name, Params: e.params}, &AggregateRenderer{})
	if err != nil {
		return err
	}
	return e.Parent.Characters(parser.Text(s))
}

// putElement handles <!--$beginput$name$-->value<!--$endput$--> inside an
// includetemplate.
type putElement struct {
	parser.Base
	include *includeTemplateElement
	name    string
	buf     parser.StringBuffer
}

func (e *putElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	parts, err := directive(tag, 2)
	if err != nil {
		return parser.Continue, err
	}
	include, ok := parser.FindAncestor[*includeTemplateElement](ctx)
	if !ok {
		return parser.Continue, parser.Errorf(tag, "put can only be used inside includetemplate")
	}
	e.include, e.name = include, parts[1]
	return parser.Continue, nil
}

func (e *putElement) Characters(c parser.Chunk) error { return e.buf.Append(c) }

func (e *putElement) OnTagEnd(string, *parser.Context) error {
	e.include.params[e.name] = e.buf.String()
	return nil
}

// includeTarget resolves the provider, page and optional name of an
// include directive.
func includeTarget(tag string, req *driver.Request) (*driver.Driver, string, string, error) {
	parts, err := directive(tag, 3, 4)
	if err != nil {
		return nil, "", "", err
	}
	reg := req.Registry()
	if reg == nil {
		return nil, "", "", parser.Errorf(tag, "no provider registry")
	}
	d, ok := reg.Get(parts[1])
	if !ok {
		return nil, "", "", parser.Errorf(tag, "unknown provider %q", parts[1])
	}
	name := ""
	if len(parts) == 4 {
		name = parts[3]
	}
	return d, strings.TrimPrefix(parts[2], "/"), name, nil
}
