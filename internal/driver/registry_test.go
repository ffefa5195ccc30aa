package driver

import (
	"testing"

	"esigate-go/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, pc := range []config.ProviderConfig{
		{Name: "default", RemoteURLBase: []string{"http://front:8080"}},
		{Name: "shop", RemoteURLBase: []string{"http://shop:8080/app"}, URIMapping: []string{"/shop"}, VisibleURLBase: "https://www.example.com/shop"},
		{Name: "static", RemoteURLBase: []string{"http://cdn:8080"}, URIMapping: []string{"/static/", "/img"}},
	} {
		if err := reg.Add(newTestDriver(t, pc)); err != nil {
			t.Fatalf("Add(%s) error = %v", pc.Name, err)
		}
	}
	return reg
}

func TestRegistry_Match(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		path        string
		wantDriver  string
		wantMapping string
	}{
		{"/", "default", "/"},
		{"/shop", "shop", "/shop"},
		{"/shop/cart", "shop", "/shop"},
		{"/shopping", "default", "/"},
		{"/static/a.css", "static", "/static/"},
		{"/img/logo.png", "static", "/img"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, mapping, ok := reg.Match(tt.path)
			if !ok {
				t.Fatal("Match() found nothing")
			}
			if d.Name() != tt.wantDriver || mapping != tt.wantMapping {
				t.Errorf("Match() = %s %q, want %s %q", d.Name(), mapping, tt.wantDriver, tt.wantMapping)
			}
		})
	}
}

func TestRegistry_ForURL(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		url        string
		wantDriver string
		wantRel    string
		wantOK     bool
	}{
		{"http://shop:8080/app/cart?id=1", "shop", "cart?id=1", true},
		{"https://www.example.com/shop/list", "shop", "list", true},
		{"http://cdn:8080/a.css", "static", "a.css", true},
		{"http://elsewhere/x", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			d, rel, ok := reg.ForURL(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("ForURL() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if d.Name() != tt.wantDriver || rel != tt.wantRel {
				t.Errorf("ForURL() = %s %q, want %s %q", d.Name(), rel, tt.wantDriver, tt.wantRel)
			}
		})
	}
}

func TestRegistry_AddDuplicate(t *testing.T) {
	reg := NewRegistry()
	pc := config.ProviderConfig{Name: "a", RemoteURLBase: []string{"http://a:8080"}}
	if err := reg.Add(newTestDriver(t, pc)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(newTestDriver(t, pc)); err == nil {
		t.Error("Add() of a duplicate name succeeded")
	}
}
