// Package parser implements the streaming, stack-based directive parser
// shared by the ESI and aggregator renderers.
package parser

import (
	"regexp"
	"strings"
)

// Parser splits input into literal text and tags with a single pattern and
// dispatches them to elements. It holds no per-parse state and is safe for
// concurrent use.
type Parser struct {
	pattern *regexp.Regexp
	types   []ElementType
}

// New creates a Parser. An unknown-tag type that copies unrecognized tags
// through is always appended to types.
func New(pattern *regexp.Regexp, types ...ElementType) *Parser {
	all := make([]ElementType, 0, len(types)+1)
	all = append(all, types...)
	all = append(all, unknownType{})
	return &Parser{pattern: pattern, types: all}
}

// Parse runs input through the element stack. Text outside any element
// and the output of top-level elements go to root.
func (p *Parser) Parse(input string, root Element) error {
	ctx := newContext(root)
	pos := 0

	for _, loc := range p.pattern.FindAllStringIndex(input, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if err := ctx.characters(input[pos:loc[0]]); err != nil {
			return err
		}
		pos = loc[1]
		tag := input[loc[0]:loc[1]]

		if ctx.isCurrentTagEnd(tag) {
			if err := ctx.endElement(tag); err != nil {
				return err
			}
			continue
		}
		if err := p.checkStrayEnd(tag); err != nil {
			return err
		}

		typ := p.typeOf(tag)
		if err := ctx.startElement(typ, tag); err != nil {
			return err
		}
		if typ.IsSelfClosing(tag) {
			if err := ctx.endElement(tag); err != nil {
				return err
			}
		}
	}

	if err := ctx.characters(input[pos:]); err != nil {
		return err
	}
	if n := len(ctx.stack); n > 0 {
		return &SyntaxError{Tag: ctx.stack[n-1].tag, Msg: "unterminated element"}
	}
	return nil
}

func (p *Parser) typeOf(tag string) ElementType {
	for _, t := range p.types {
		if t.IsStartTag(tag) {
			return t
		}
	}
	return unknownType{}
}

// checkStrayEnd rejects an element-style end tag of a registered type that
// does not close the innermost open element.
func (p *Parser) checkStrayEnd(tag string) error {
	if !strings.HasPrefix(tag, "</") {
		return nil
	}
	for _, t := range p.types[:len(p.types)-1] {
		if t.IsEndTag(tag) {
			return &SyntaxError{Tag: tag, Msg: "unexpected end tag"}
		}
	}
	return nil
}
