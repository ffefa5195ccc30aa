package driver

import (
	"fmt"
	"strings"
)

// Registry holds the configured drivers by name.
type Registry struct {
	drivers map[string]*Driver
	order   []*Driver
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*Driver)}
}

// Add registers d. Names must be unique.
func (r *Registry) Add(d *Driver) error {
	if _, ok := r.drivers[d.name]; ok {
		return fmt.Errorf("driver %q already registered", d.name)
	}
	r.drivers[d.name] = d
	r.order = append(r.order, d)
	d.registry = r
	return nil
}

// Get returns the driver called name.
func (r *Registry) Get(name string) (*Driver, bool) {
	d, ok := r.drivers[name]
	return d, ok
}

// Drivers returns every driver in registration order.
func (r *Registry) Drivers() []*Driver {
	return append([]*Driver(nil), r.order...)
}

// Match returns the driver whose uri_mapping is the longest prefix of path,
// with the matched mapping.
func (r *Registry) Match(path string) (*Driver, string, bool) {
	var best *Driver
	bestMapping := ""
	for _, d := range r.order {
		for _, m := range d.cfg.URIMapping {
			if mappingMatches(m, path) && (best == nil || len(m) > len(bestMapping)) {
				best, bestMapping = d, m
			}
		}
	}
	return best, bestMapping, best != nil
}

func mappingMatches(mapping, path string) bool {
	if mapping == "/" {
		return true
	}
	mapping = strings.TrimSuffix(mapping, "/")
	return path == mapping || strings.HasPrefix(path, mapping+"/")
}

// ForURL returns the driver owning an absolute URL, matched against each
// driver's backend and visible base URLs, with the URL made relative to
// that base.
func (r *Registry) ForURL(abs string) (*Driver, string, bool) {
	for _, d := range r.order {
		bases := append([]string{d.cfg.VisibleURLBase}, d.cfg.RemoteURLBase...)
		for _, base := range bases {
			if base == "" {
				continue
			}
			base = withSlash(base)
			if strings.HasPrefix(abs, base) {
				return d, abs[len(base):], true
			}
		}
	}
	return nil, "", false
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
