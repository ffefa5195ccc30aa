package parser

type frame struct {
	typ  ElementType
	el   Element
	tag  string
	skip bool
}

// Context is the element stack of one parse. The root element receives
// everything written outside any directive.
type Context struct {
	root  Element
	stack []frame
}

func newContext(root Element) *Context {
	return &Context{root: root}
}

// Current returns the innermost open element, or the root.
func (c *Context) Current() Element {
	if n := len(c.stack); n > 0 {
		return c.stack[n-1].el
	}
	return c.root
}

// Depth reports the number of open elements.
func (c *Context) Depth() int { return len(c.stack) }

// FindAncestor returns the innermost open element of type T, searching
// down to the root. Suppressed elements are invisible.
func FindAncestor[T any](ctx *Context) (T, bool) {
	for i := len(ctx.stack) - 1; i >= 0; i-- {
		f := ctx.stack[i]
		if f.skip {
			continue
		}
		if t, ok := f.el.(T); ok {
			return t, true
		}
	}
	if t, ok := ctx.root.(T); ok {
		return t, true
	}
	var zero T
	return zero, false
}

func (c *Context) suppressed() bool {
	n := len(c.stack)
	return n > 0 && c.stack[n-1].skip
}

func (c *Context) isCurrentTagEnd(tag string) bool {
	n := len(c.stack)
	return n > 0 && c.stack[n-1].typ.IsEndTag(tag)
}

func (c *Context) characters(s string) error {
	if s == "" || c.suppressed() {
		return nil
	}
	if err := c.Current().Characters(Text(s)); err != nil {
		return c.handleError(err)
	}
	return nil
}

func (c *Context) startElement(typ ElementType, tag string) error {
	if c.suppressed() {
		c.stack = append(c.stack, frame{typ: typ, tag: tag, skip: true})
		return nil
	}

	el := typ.New()
	disp, err := el.OnTagStart(tag, c)
	c.stack = append(c.stack, frame{typ: typ, el: el, tag: tag, skip: disp == Suppress})
	if err != nil {
		if err = c.handleError(err); err != nil {
			return err
		}
		// Recovered: the element is in an unknown state, ignore its body.
		c.stack[len(c.stack)-1].skip = true
	}
	return nil
}

func (c *Context) endElement(tag string) error {
	top := c.stack[len(c.stack)-1]
	var err error
	if !top.skip {
		if err = top.el.OnTagEnd(tag, c); err != nil {
			err = c.handleError(err)
		}
	}
	c.stack = c.stack[:len(c.stack)-1]
	return err
}

// handleError offers err to open elements from the innermost outwards,
// then to the root. It returns nil if someone accepted it.
func (c *Context) handleError(err error) error {
	for i := len(c.stack) - 1; i >= 0; i-- {
		f := c.stack[i]
		if f.skip {
			continue
		}
		if f.el.OnError(err, c) {
			return nil
		}
	}
	if c.root.OnError(err, c) {
		return nil
	}
	return err
}
