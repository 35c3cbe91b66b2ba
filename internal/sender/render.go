package sender

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/lumamail/pipeline/internal/domain"
)

// Renderer personalizes campaign HTML with Liquid. Parsed templates are
// cached per content hash so a 50k-recipient campaign parses once.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ name | default: "Friend" }} — empty personalization fields fall
	// back instead of rendering a hole in the copy.
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	return &Renderer{engine: engine}
}

// Render produces the personalized HTML body for one recipient.
func (r *Renderer) Render(c *domain.Campaign, rec domain.Recipient) (string, error) {
	tpl, err := r.template(c.HTMLContent)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	firstName := rec.Name
	if i := strings.IndexByte(firstName, ' '); i > 0 {
		firstName = firstName[:i]
	}

	out, err := tpl.RenderString(map[string]interface{}{
		"email":          rec.Email,
		"name":           rec.Name,
		"first_name":     firstName,
		"subject":        c.Subject,
		"campaign_title": c.Title,
	})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func (r *Renderer) template(content string) (*liquid.Template, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(content)))
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(content)
	if err != nil {
		return nil, err
	}
	r.cache.Store(key, tpl)
	return tpl, nil
}
