package urls

import (
	"strings"
	"sync"

	"cartsync/internal/domain"
)

// DefaultRoutes are the named storefront routes product and category links
// resolve against.
func DefaultRoutes() []domain.LocalizedRoute {
	return []domain.LocalizedRoute{
		{Name: "home", Path: "/", Component: "Home"},
		{Name: "category", Path: "/c/:slug", Component: "Category"},
		{Name: "simple-product", Path: "/p/:parentSku/:slug", Component: "Product"},
		{Name: "configurable-product", Path: "/p/:parentSku/:slug/:childSku", Component: "Product"},
		{Name: "bundle-product", Path: "/p/:parentSku/:slug", Component: "Product"},
		{Name: "grouped-product", Path: "/p/:parentSku/:slug", Component: "Product"},
		{Name: "virtual-product", Path: "/p/:parentSku/:slug", Component: "Product"},
		{Name: "downloadable-product", Path: "/p/:parentSku/:slug", Component: "Product"},
		{Name: "checkout", Path: "/checkout", Component: "Checkout"},
		{Name: "page-not-found", Path: "/page-not-found", Component: "ErrorPage"},
	}
}

// RouteTable is the registry of known routes. Routes added later replace
// earlier ones with the same name. Path lookups try routes in insertion
// order.
type RouteTable struct {
	mu     sync.RWMutex
	routes []domain.LocalizedRoute
	byName map[string]int
}

func NewRouteTable(routes ...domain.LocalizedRoute) *RouteTable {
	t := &RouteTable{byName: make(map[string]int)}
	t.AddRoutes(routes...)
	return t
}

func (t *RouteTable) AddRoutes(routes ...domain.LocalizedRoute) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range routes {
		r = r.Clone()
		if i, ok := t.byName[r.Name]; ok && r.Name != "" {
			t.routes[i] = r
			continue
		}
		if r.Name != "" {
			t.byName[r.Name] = len(t.routes)
		}
		t.routes = append(t.routes, r)
	}
}

func (t *RouteTable) FindByName(name string) (domain.LocalizedRoute, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byName[name]
	if !ok {
		return domain.LocalizedRoute{}, false
	}
	return t.routes[i].Clone(), true
}

// FindByPath returns the first route whose path matches fullPath, with the
// ":name" segments of its pattern captured into Params. Query strings are
// ignored.
func (t *RouteTable) FindByPath(fullPath string) (domain.LocalizedRoute, bool) {
	segments := splitPath(fullPath)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		params, ok := matchPath(splitPath(r.Path), segments)
		if !ok {
			continue
		}
		out := r.Clone()
		if len(params) > 0 {
			if out.Params == nil {
				out.Params = make(map[string]string, len(params))
			}
			for k, v := range params {
				out.Params[k] = v
			}
		}
		out.FullPath = "/" + strings.Join(segments, "/")
		return out, true
	}
	return domain.LocalizedRoute{}, false
}

func (t *RouteTable) Routes() []domain.LocalizedRoute {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.LocalizedRoute, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Clone()
	}
	return out
}

func splitPath(p string) []string {
	p = NormalizeURLPath(p)
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchPath(pattern, segments []string) (map[string]string, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if segments[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = segments[i]
			continue
		}
		if seg != segments[i] {
			return nil, false
		}
	}
	return params, true
}
