// Package aggregator renders the comment directives <!--$...$--> that cut
// provider pages into blocks and templates and assemble them into other
// pages.
package aggregator

import (
	"regexp"
	"strings"

	"esigate-go/internal/driver"
	"esigate-go/internal/parser"
)

var tagPattern = regexp.MustCompile(`<!--\$[^>]*?\$-->`)

var (
	blockParser = parser.New(tagPattern,
		&parser.TagType{Start: "<!--$beginblock$", End: "<!--$endblock$", Factory: func() parser.Element { return &blockElement{} }},
	)
	templateParser = parser.New(tagPattern,
		&parser.TagType{Start: "<!--$begintemplate$", End: "<!--$endtemplate$", Factory: func() parser.Element { return &templateElement{} }},
		&parser.TagType{Start: "<!--$beginparam$", End: "<!--$endparam$", Factory: func() parser.Element { return &paramElement{} }},
	)
	aggregateParser = parser.New(tagPattern,
		&parser.TagType{Start: "<!--$includeblock$", End: "<!--$endincludeblock$", Factory: func() parser.Element { return &includeBlockElement{} }},
		&parser.TagType{Start: "<!--$includetemplate$", End: "<!--$endincludetemplate$", Factory: func() parser.Element { return &includeTemplateElement{} }},
		&parser.TagType{Start: "<!--$beginput$", End: "<!--$endput$", Factory: func() parser.Element { return &putElement{} }},
	)
)

// directive splits a tag into its $-separated parts, without the leading
// "<!--" and trailing "-->". It checks the part count is one of counts.
func directive(tag string, counts ...int) ([]string, error) {
	parts := strings.Split(tag, "$")
	parts = parts[1 : len(parts)-1]
	for _, n := range counts {
		if len(parts) == n {
			return parts, nil
		}
	}
	return nil, parser.Errorf(tag, "invalid syntax")
}

// root is the document element shared by the three renderers. Unless the
// whole page is wanted it writes nothing: matching blocks and templates
// write to buf directly.
type root struct {
	req    *driver.Request
	name   string
	params map[string]string
	all    bool
	buf    parser.StringBuffer
}

func (r *root) OnTagStart(string, *parser.Context) (parser.Disposition, error) {
	return parser.Continue, nil
}

func (r *root) OnTagEnd(string, *parser.Context) error { return nil }

func (r *root) OnError(error, *parser.Context) bool { return false }

func (r *root) Characters(c parser.Chunk) error {
	if !r.all {
		return nil
	}
	return r.buf.Append(c)
}

func rootOf(ctx *parser.Context) *root {
	r, _ := parser.FindAncestor[*root](ctx)
	return r
}

// BlockRenderer keeps the block called Name, or the whole page when Name
// is empty.
type BlockRenderer struct {
	Name string
}

// Render implements driver.Renderer.
func (b *BlockRenderer) Render(req *driver.Request, content string) (string, error) {
	doc := &root{req: req, name: b.Name, all: b.Name == ""}
	if err := blockParser.Parse(content, doc); err != nil {
		return "", err
	}
	return doc.buf.String(), nil
}

// TemplateRenderer keeps the template called Name, or the whole page when
// Name is empty, with its params replaced by Params.
type TemplateRenderer struct {
	Name   string
	Params map[string]string
}

// Render implements driver.Renderer.
func (t *TemplateRenderer) Render(req *driver.Request, content string) (string, error) {
	doc := &root{req: req, name: t.Name, params: t.Params, all: t.Name == ""}
	if err := templateParser.Parse(content, doc); err != nil {
		return "", err
	}
	return doc.buf.String(), nil
}

// AggregateRenderer resolves includeblock and includetemplate directives
// against the providers of the request's registry.
type AggregateRenderer struct{}

// Render implements driver.Renderer.
func (a *AggregateRenderer) Render(req *driver.Request, content string) (string, error) {
	if !strings.Contains(content, "<!--$include") {
		return content, nil
	}
	doc := &root{req: req, all: true}
	if err := aggregateParser.Parse(content, doc); err != nil {
		return "", err
	}
	return doc.buf.String(), nil
}
