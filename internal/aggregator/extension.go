package aggregator

import (
	"slices"

	"esigate-go/internal/driver"
)

// Extension adds an AggregateRenderer to every render of a driver that
// does not have one yet.
type Extension struct{}

// Init registers the render hook on d.
func (Extension) Init(d *driver.Driver) error {
	d.Events().OnPreRender(func(ev *driver.RenderEvent) error {
		if !slices.ContainsFunc(ev.Renderers, func(r driver.Renderer) bool {
			_, ok := r.(*AggregateRenderer)
			return ok
		}) {
			ev.Renderers = append(ev.Renderers, &AggregateRenderer{})
		}
		return nil
	})
	return nil
}
