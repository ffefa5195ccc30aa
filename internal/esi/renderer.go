// Package esi renders Edge Side Includes directives found in provider
// pages: includes, conditionals, error handling and inline fragments.
package esi

import (
	"log/slog"
	"regexp"
	"strings"

	"esigate-go/internal/driver"
	"esigate-go/internal/metrics"
	"esigate-go/internal/parser"
)

var tagPattern = regexp.MustCompile(`(?s)<!--esi|-->|</?esi:[^>]*>`)

var esiParser = parser.New(tagPattern,
	&parser.TagType{Start: "<esi:include", End: "</esi:include", Factory: func() parser.Element { return &includeElement{} }},
	&parser.TagType{Start: "<esi:replace", End: "</esi:replace", Factory: func() parser.Element { return &replaceElement{} }},
	&parser.TagType{Start: "<esi:fragment", End: "</esi:fragment", Factory: func() parser.Element { return &fragmentElement{} }},
	&parser.TagType{Start: "<esi:try", End: "</esi:try", Factory: func() parser.Element { return &tryElement{} }},
	&parser.TagType{Start: "<esi:attempt", End: "</esi:attempt", Factory: func() parser.Element { return &attemptElement{} }},
	&parser.TagType{Start: "<esi:except", End: "</esi:except", Factory: func() parser.Element { return &exceptElement{} }},
	&parser.TagType{Start: "<esi:choose", End: "</esi:choose", Factory: func() parser.Element { return &chooseElement{} }},
	&parser.TagType{Start: "<esi:when", End: "</esi:when", Factory: func() parser.Element { return &whenElement{} }},
	&parser.TagType{Start: "<esi:otherwise", End: "</esi:otherwise", Factory: func() parser.Element { return &otherwiseElement{} }},
	&parser.TagType{Start: "<esi:vars", End: "</esi:vars", Factory: func() parser.Element { return &varsElement{} }},
	&parser.TagType{Start: "<esi:inline", End: "</esi:inline", Factory: func() parser.Element { return &inlineElement{} }},
	&parser.TagType{Start: "<esi:remove", End: "</esi:remove", Factory: func() parser.Element { return &suppressElement{} }},
	&parser.TagType{Start: "<esi:comment", End: "</esi:comment", Factory: func() parser.Element { return &suppressElement{} }},
	&parser.TagType{Start: "<!--esi", End: "-->", Factory: func() parser.Element { return &parser.Base{} }},
)

// Options configures a Renderer. Metrics is optional.
type Options struct {
	Executor parser.Executor
	Store    *InlineStore
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Renderer processes ESI directives. A Renderer is immutable and may be
// shared between requests.
type Renderer struct {
	exec    parser.Executor
	store   *InlineStore
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Set on renderers created for <esi:include fragment="...">.
	fragment     string
	replacements map[string]string
}

// New creates a Renderer. A nil executor renders synchronously.
func New(opts Options) *Renderer {
	exec := opts.Executor
	if exec == nil {
		exec = parser.Sync{}
	}
	store := opts.Store
	if store == nil {
		store = NewInlineStore()
	}
	return &Renderer{
		exec:    exec,
		store:   store,
		logger:  opts.Logger.With("component", "esi"),
		metrics: opts.Metrics,
	}
}

// Render runs content through the ESI parser.
func (r *Renderer) Render(req *driver.Request, content string) (string, error) {
	if r.fragment == "" && len(r.replacements) == 0 &&
		!strings.Contains(content, "<esi:") && !strings.Contains(content, "<!--esi") {
		return content, nil
	}
	doc := &document{r: r, req: req, buf: r.exec.NewBuffer()}
	if err := esiParser.Parse(content, doc); err != nil {
		return "", err
	}
	return doc.buf.Chunk().Get()
}

// forInclude returns a copy of r that keeps only fragment (when set) and
// substitutes the given fragments.
func (r *Renderer) forInclude(fragment string, replacements map[string]string) *Renderer {
	c := *r
	c.fragment = fragment
	c.replacements = replacements
	return &c
}

func (r *Renderer) record(kind, result string) {
	if r.metrics != nil {
		r.metrics.Fragments.WithLabelValues(kind, result).Inc()
	}
}

// document is the root element of one render.
type document struct {
	r   *Renderer
	req *driver.Request
	buf parser.Buffer
}

func (d *document) OnTagStart(string, *parser.Context) (parser.Disposition, error) {
	return parser.Continue, nil
}

func (d *document) OnTagEnd(string, *parser.Context) error { return nil }

func (d *document) OnError(error, *parser.Context) bool { return false }

// Characters drops text outside the selected fragment, if any.
func (d *document) Characters(c parser.Chunk) error {
	if d.r.fragment != "" {
		return nil
	}
	return d.buf.Append(c)
}

func documentOf(ctx *parser.Context) *document {
	doc, _ := parser.FindAncestor[*document](ctx)
	return doc
}

// suppressElement discards its body: <esi:remove> and <esi:comment>.
type suppressElement struct {
	parser.Base
}

func (e *suppressElement) OnTagStart(_ string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	return parser.Suppress, nil
}
