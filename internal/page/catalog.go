package page

import (
	"fmt"
	"sort"
)

// Catalog is the fixed set of pages served by one process.
type Catalog struct {
	pages map[string]Page
}

func NewCatalog(pages ...Page) (*Catalog, error) {
	c := &Catalog{pages: make(map[string]Page, len(pages))}
	kinds := make(map[string]string, len(pages))
	for _, p := range pages {
		if _, dup := c.pages[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate page %q", p.Name())
		}
		if other, dup := kinds[p.Kind()]; dup {
			return nil, fmt.Errorf("pages %q and %q share session kind %q", other, p.Name(), p.Kind())
		}
		c.pages[p.Name()] = p
		kinds[p.Kind()] = p.Name()
	}
	return c, nil
}

// Default builds the dashboard's pages on deps.
func Default(deps Deps) (*Catalog, error) {
	chat, err := NewChat(deps, nil)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettings(deps)
	if err != nil {
		return nil, err
	}
	return NewCatalog(chat, settings)
}

func (c *Catalog) Lookup(name string) (Page, bool) {
	p, ok := c.pages[name]
	return p, ok
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.pages))
	for name := range c.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
