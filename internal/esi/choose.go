package esi

import (
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"esigate-go/internal/driver"
	"esigate-go/internal/parser"
)

// chooseElement tracks whether one of its when branches matched. Once set
// the flag stays set for the rest of the choose.
type chooseElement struct {
	parser.Base
	condition       bool
	hasConditionSet bool
}

func (e *chooseElement) setCondition(v bool) {
	e.condition = v
	e.hasConditionSet = e.hasConditionSet || v
}

// whenElement writes its body if it is the first branch of its choose
// whose test is true.
type whenElement struct {
	parser.Base
}

func (e *whenElement) OnTagStart(tag string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	t, err := parser.ParseTag(tag)
	if err != nil {
		return parser.Continue, err
	}
	test, hasTest := t.Attr("test")
	choose, ok := parser.FindAncestor[*chooseElement](ctx)
	if !hasTest || !ok || choose.hasConditionSet {
		return parser.Suppress, nil
	}

	v, err := evalTest(test, documentOf(ctx).req)
	if err != nil {
		return parser.Continue, parser.Errorf(tag, "invalid test expression: %v", err)
	}
	choose.setCondition(v)
	if !v {
		return parser.Suppress, nil
	}
	return parser.Continue, nil
}

// otherwiseElement writes its body when no when branch matched.
type otherwiseElement struct {
	parser.Base
}

func (e *otherwiseElement) OnTagStart(_ string, ctx *parser.Context) (parser.Disposition, error) {
	e.Bind(ctx)
	choose, ok := parser.FindAncestor[*chooseElement](ctx)
	if !ok || choose.hasConditionSet {
		return parser.Suppress, nil
	}
	return parser.Continue, nil
}

// evalTest evaluates an ESI test expression. Variables are substituted as
// literals, and the single-character & and | operators map to && and ||.
func evalTest(test string, req *driver.Request) (bool, error) {
	program, err := expr.Compile(translateTest(test, req), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func translateTest(test string, req *driver.Request) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(test); i++ {
		c := test[i]
		if c == '$' && i+1 < len(test) && test[i+1] == '(' {
			if loc := variablePattern.FindStringIndex(test[i:]); loc != nil && loc[0] == 0 {
				v := lookupReference(test[i:i+loc[1]], req)
				if quote != 0 {
					b.WriteString(escapeQuoted(v, quote))
				} else {
					b.WriteString(literal(v))
				}
				i += loc[1] - 1
				continue
			}
		}
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(test) {
				b.WriteByte(c)
				i++
				c = test[i]
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '&' || c == '|':
			if i+1 < len(test) && test[i+1] == c {
				b.WriteByte(c)
				i++
			} else {
				b.WriteByte(c)
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// literal renders a variable value outside quotes: numbers stay numbers,
// everything else becomes a string.
func literal(v string) string {
	if v != "" && strings.Trim(v, "0123456789.-") == "" {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return v
		}
	}
	return "'" + escapeQuoted(v, '\'') + "'"
}

func escapeQuoted(v string, quote byte) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, string(quote), `\`+string(quote))
}
