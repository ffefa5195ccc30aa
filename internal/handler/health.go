package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"esigate-go/internal/cookie"
	"esigate-go/internal/driver"
	"esigate-go/internal/esi"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	registry *driver.Registry
	sessions *cookie.SessionStore
	inline   *esi.InlineStore
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(reg *driver.Registry, sessions *cookie.SessionStore, inline *esi.InlineStore, v Version) *HealthHandler {
	return &HealthHandler{registry: reg, sessions: sessions, inline: inline, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type providerStatus struct {
	Name       string   `json:"name"`
	URIMapping []string `json:"uri_mapping"`
	Remote     []string `json:"remote_url_base"`
	Renderers  []string `json:"renderers"`
}

type status struct {
	Status          string           `json:"status"`
	Version         string           `json:"version"`
	Providers       []providerStatus `json:"providers"`
	Sessions        int              `json:"sessions"`
	InlineFragments int              `json:"inline_fragments"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	s := status{Status: "ok", Version: string(h.version)}
	for _, d := range h.registry.Drivers() {
		pc := d.Config()
		s.Providers = append(s.Providers, providerStatus{
			Name:       pc.Name,
			URIMapping: pc.URIMapping,
			Remote:     pc.RemoteURLBase,
			Renderers:  pc.Renderers,
		})
	}
	if h.sessions != nil {
		s.Sessions = h.sessions.Len()
	}
	if h.inline != nil {
		s.InlineFragments = h.inline.Len()
	}
	return c.JSON(http.StatusOK, s)
}
