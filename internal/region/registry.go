package region

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/model"
)

// page is one page location and the regions rendered on it.
type page struct {
	location *Location
	regions  map[string]*Store
}

// Registry tracks the regions of every page. Regions are created and
// destroyed explicitly; each page has one Location shared by its regions.
type Registry struct {
	defaults Options

	mu    sync.RWMutex
	pages map[string]*page
}

// NewRegistry creates an empty registry. Zero-valued fields of the Options
// passed to Create are filled from defaults: the reload timeout, page size,
// hook, content service, navigator, logger and recorder.
func NewRegistry(defaults Options) *Registry {
	return &Registry{
		defaults: defaults,
		pages:    make(map[string]*page),
	}
}

// Location returns the location of pageID, creating an empty one for a page
// that has not been seen.
func (r *Registry) Location(pageID string) *Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageLocked(pageID).location
}

// Create adds region name to a page. The page's location is the region's
// source of parameters. A second region with the same name on the same
// page is a conflict.
func (r *Registry) Create(pageID, name string, opts Options) (*Store, error) {
	if pageID == "" {
		return nil, model.NewBadRequestError("page id is required")
	}
	opts.Name = name
	r.applyDefaults(&opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pageLocked(pageID)
	if _, exists := p.regions[opts.Name]; exists {
		return nil, model.NewConflictError(fmt.Sprintf("region %q already exists on page %q", opts.Name, pageID))
	}

	s, err := New(p.location, opts)
	if err != nil {
		return nil, err
	}
	p.regions[opts.Name] = s
	s.logger.Debug("region created", zap.String("page", pageID), zap.Bool("async", opts.Async))
	return s, nil
}

// Get returns a region of a page.
func (r *Registry) Get(pageID, name string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pages[pageID]; ok {
		if s, ok := p.regions[name]; ok {
			return s, nil
		}
	}
	return nil, model.NewNotFoundError(fmt.Sprintf("region %q not found on page %q", name, pageID))
}

// Destroy removes a region and stops its in-flight reloads. Results that
// arrive afterwards are dropped as render errors. The page location is kept.
func (r *Registry) Destroy(pageID, name string) error {
	r.mu.Lock()
	p, ok := r.pages[pageID]
	var s *Store
	if ok {
		s = p.regions[name]
		delete(p.regions, name)
	}
	r.mu.Unlock()

	if s == nil {
		return model.NewNotFoundError(fmt.Sprintf("region %q not found on page %q", name, pageID))
	}
	s.destroy()
	s.logger.Debug("region destroyed", zap.String("page", pageID))
	return nil
}

// Names returns the region names of a page in sorted order.
func (r *Registry) Names(pageID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[pageID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(p.regions))
	for name := range p.regions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of live regions across all pages.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.pages {
		n += len(p.regions)
	}
	return n
}

func (r *Registry) pageLocked(pageID string) *page {
	p, ok := r.pages[pageID]
	if !ok {
		p = &page{location: NewLocation(""), regions: make(map[string]*Store)}
		r.pages[pageID] = p
	}
	return p
}

func (r *Registry) applyDefaults(opts *Options) {
	d := r.defaults
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = d.ReloadTimeout
	}
	if opts.PageSize == 0 {
		opts.PageSize = d.PageSize
	}
	if opts.Hook == nil {
		opts.Hook = d.Hook
	}
	if opts.Content == nil {
		opts.Content = d.Content
	}
	if opts.Navigator == nil {
		opts.Navigator = d.Navigator
	}
	if opts.OnRender == nil {
		opts.OnRender = d.OnRender
	}
	if opts.Logger == nil {
		opts.Logger = d.Logger
	}
	if opts.Recorder == nil {
		opts.Recorder = d.Recorder
	}
}
