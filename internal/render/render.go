// Package render renders outreach templates with the Liquid template
// language. Placeholders like {{ first_name }} resolve against the prospect
// record; unknown variables render empty so a missing company name never
// blocks a send.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/reachforge/outreach-engine/internal/domain"
)

// Renderer renders Liquid templates with parse caching. Safe for concurrent
// use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

// New creates a renderer with the outreach filter set registered.
func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ first_name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	return r
}

// Render renders source against the given bindings.
func (r *Renderer) Render(source string, bindings map[string]interface{}) (string, error) {
	tmpl, err := r.parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tmpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tmpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	r.cache.Store(source, tmpl)
	return tmpl, nil
}

// ProspectBindings builds the render context for a prospect.
func ProspectBindings(p *domain.Prospect) map[string]interface{} {
	return map[string]interface{}{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"company":    p.Company,
		"email":      p.Email,
	}
}
