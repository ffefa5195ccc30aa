package driver

import (
	"net/http"
	"sync"

	"esigate-go/internal/model"
)

// FetchEvent wraps one backend call. Pre hooks may change HTTPRequest; post
// hooks see the outcome.
type FetchEvent struct {
	Request     *Request
	HTTPRequest *http.Request
	Response    *model.Response
	Err         error
}

// RenderEvent wraps the rendering of one fetched page. Pre hooks may add
// renderers; post hooks see the final Content.
type RenderEvent struct {
	Request   *Request
	URL       string
	Renderers []Renderer
	Content   string
}

// ProxyEvent wraps a proxied client request.
type ProxyEvent struct {
	Request  *Request
	URL      string
	Response *model.Response
}

// Extension plugs cross-cutting behaviour into a driver's events.
type Extension interface {
	Init(d *Driver) error
}

// EventManager dispatches driver events to registered hooks in
// registration order. A pre hook returning an error aborts the operation.
type EventManager struct {
	mu         sync.RWMutex
	preFetch   []func(*FetchEvent) error
	postFetch  []func(*FetchEvent)
	preRender  []func(*RenderEvent) error
	postRender []func(*RenderEvent)
	preProxy   []func(*ProxyEvent) error
	postProxy  []func(*ProxyEvent)
}

// NewEventManager creates an EventManager without hooks.
func NewEventManager() *EventManager { return &EventManager{} }

func (m *EventManager) OnPreFetch(fn func(*FetchEvent) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preFetch = append(m.preFetch, fn)
}

func (m *EventManager) OnPostFetch(fn func(*FetchEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postFetch = append(m.postFetch, fn)
}

func (m *EventManager) OnPreRender(fn func(*RenderEvent) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preRender = append(m.preRender, fn)
}

func (m *EventManager) OnPostRender(fn func(*RenderEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postRender = append(m.postRender, fn)
}

func (m *EventManager) OnPreProxy(fn func(*ProxyEvent) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preProxy = append(m.preProxy, fn)
}

func (m *EventManager) OnPostProxy(fn func(*ProxyEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postProxy = append(m.postProxy, fn)
}

func (m *EventManager) firePreFetch(ev *FetchEvent) error {
	m.mu.RLock()
	hooks := m.preFetch
	m.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *EventManager) firePostFetch(ev *FetchEvent) {
	m.mu.RLock()
	hooks := m.postFetch
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

func (m *EventManager) firePreRender(ev *RenderEvent) error {
	m.mu.RLock()
	hooks := m.preRender
	m.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *EventManager) firePostRender(ev *RenderEvent) {
	m.mu.RLock()
	hooks := m.postRender
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

func (m *EventManager) firePreProxy(ev *ProxyEvent) error {
	m.mu.RLock()
	hooks := m.preProxy
	m.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *EventManager) firePostProxy(ev *ProxyEvent) {
	m.mu.RLock()
	hooks := m.postProxy
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}
