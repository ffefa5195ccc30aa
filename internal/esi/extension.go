package esi

import (
	"slices"

	"esigate-go/internal/driver"
)

// Extension adds the ESI renderer to every render of a driver that was not
// given one explicitly.
type Extension struct {
	Renderer *Renderer
}

// Init registers the render hook on d.
func (x Extension) Init(d *driver.Driver) error {
	d.Events().OnPreRender(func(ev *driver.RenderEvent) error {
		if !slices.ContainsFunc(ev.Renderers, isESI) {
			ev.Renderers = append(ev.Renderers, x.Renderer)
		}
		return nil
	})
	return nil
}

func isESI(r driver.Renderer) bool {
	_, ok := r.(*Renderer)
	return ok
}
