package session

import (
	"context"
	"sync"
)

// Page is the ownership token for one embedding surface. At most one
// controller is live per page; it is released when the controller is
// destroyed.
type Page struct {
	mu      sync.Mutex
	current *Controller
}

func NewPage() *Page {
	return &Page{}
}

// Open creates a controller and starts its bootstrap. ctx bounds the
// bootstrap only; the session itself lives until Destroy.
func (p *Page) Open(ctx context.Context, cfg Config) (*Controller, error) {
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil, ErrSessionExists
	}
	c, err := newController(p, cfg)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.current = c
	p.mu.Unlock()

	c.start(ctx)
	return c, nil
}

// Current returns the live controller, or nil.
func (p *Page) Current() *Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) release(c *Controller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == c {
		p.current = nil
	}
}
