package parser

import "fmt"

// SyntaxError reports a malformed or unbalanced directive. It is fatal to
// the current parse unless an enclosing element accepts it.
type SyntaxError struct {
	Tag string
	Msg string
}

func (e *SyntaxError) Error() string {
	if e.Tag == "" {
		return "syntax error: " + e.Msg
	}
	return fmt.Sprintf("syntax error: %s in %q", e.Msg, e.Tag)
}

// Errorf builds a SyntaxError for tag.
func Errorf(tag, format string, args ...any) *SyntaxError {
	return &SyntaxError{Tag: tag, Msg: fmt.Sprintf(format, args...)}
}
