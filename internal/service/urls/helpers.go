// Package urls formats storefront category and product links and keeps the
// table of dynamic routes registered from the url dispatcher.
package urls

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/domain"
)

// Link is either a plain path or a named route, never both.
type Link struct {
	Path  string                 `json:"path,omitempty"`
	Route *domain.LocalizedRoute `json:"route,omitempty"`
}

type Helpers struct {
	seo        config.SEOConfig
	storeViews config.StoreViewsConfig
	table      *RouteTable
	logger     *zap.SugaredLogger
}

func NewHelpers(cfg config.Config, table *RouteTable, logger *zap.SugaredLogger) *Helpers {
	if table == nil {
		table = NewRouteTable(DefaultRoutes()...)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Helpers{
		seo:        cfg.SEO,
		storeViews: cfg.StoreViews,
		table:      table,
		logger:     logger,
	}
}

func (h *Helpers) Table() *RouteTable {
	return h.table
}

// NormalizeURLPath drops one leading slash and the query string.
func NormalizeURLPath(u string) string {
	if u == "" {
		return u
	}
	u = strings.TrimPrefix(u, "/")
	if i := strings.IndexByte(u, '?'); i > 0 {
		u = u[:i]
	}
	return u
}

// ParametrizeRouteData merges query into the route params and prefixes the
// route name with the store code once.
func ParametrizeRouteData(route domain.LocalizedRoute, query map[string]string, storeCodeInPath string) domain.LocalizedRoute {
	out := route.Clone()
	if out.Params == nil {
		out.Params = make(map[string]string, len(query))
	}
	for k, v := range query {
		out.Params[k] = v
	}
	if storeCodeInPath != "" && !strings.HasPrefix(out.Name, storeCodeInPath+"-") {
		out.Name = storeCodeInPath + "-" + out.Name
	}
	return out
}

func (h *Helpers) FormatCategoryLink(category *domain.Category, storeCode string) string {
	prefix := ""
	if storeCode != "" {
		prefix = storeCode + "/"
	}
	if category == nil {
		return "/" + prefix
	}
	if h.seo.UseURLDispatcher {
		return "/" + prefix + category.URLPath
	}
	return "/" + prefix + "c/" + category.Slug
}

// FormatProductLink returns a url dispatcher path when the product has a url
// path and the dispatcher is enabled, otherwise a named <type>-product route.
func (h *Helpers) FormatProductLink(product domain.Product, storeCode string) Link {
	if h.seo.UseURLDispatcher && product.URLPath != "" {
		route := domain.LocalizedRoute{FullPath: product.URLPath}
		if len(product.Options) > 0 || len(product.ConfigurableChildren) > 0 {
			route.Params = map[string]string{"childSku": product.SKU}
		}
		return Link{Path: h.dispatcherPath(route, storeCode)}
	}

	parentSKU := product.ParentSKU
	if parentSKU == "" {
		parentSKU = product.SKU
	}
	route := h.localizedRoute(domain.LocalizedRoute{
		Name: product.TypeID + "-product",
		Params: map[string]string{
			"parentSku": parentSKU,
			"slug":      product.Slug,
			"childSku":  product.SKU,
		},
	}, storeCode)
	return Link{Route: &route}
}

// ProcessDynamicRoute builds url dispatcher routes for fullPath from the
// registered route named by route.Name. With addToRoutes the root route and
// one route per mapped store view are registered. It reports false when no
// route with that name exists.
func (h *Helpers) ProcessDynamicRoute(route domain.LocalizedRoute, fullPath string, addToRoutes bool) ([]domain.LocalizedRoute, bool) {
	userRoute, ok := h.table.FindByName(route.Name)
	if !ok {
		return nil, false
	}
	fullPath = strings.TrimPrefix(fullPath, "/")
	root := mergeRoute(userRoute, route)
	root.Path = "/" + fullPath
	root.Name = "urldispatcher-" + fullPath
	if !addToRoutes {
		return []domain.LocalizedRoute{root}, true
	}

	routes := []domain.LocalizedRoute{root}
	if h.storeViews.Multistore {
		for _, storeCode := range h.storeViews.MapStoreURLsFor {
			if storeCode == "" {
				continue
			}
			r := mergeRoute(userRoute, route)
			if storeCode != h.storeViews.DefaultStoreCode {
				r.Path = "/" + storeCode + "/" + fullPath
			} else {
				r.Path = "/" + fullPath
			}
			r.Name = "urldispatcher-" + fullPath + "-" + storeCode
			routes = append(routes, r)
		}
	}
	h.table.AddRoutes(routes...)
	h.logger.Debugw("dynamic routes registered", "full_path", fullPath, "routes", len(routes))
	return routes, true
}

func (h *Helpers) FindRouteByPath(fullPath string) (domain.LocalizedRoute, bool) {
	return h.table.FindByPath(fullPath)
}

func (h *Helpers) appendStoreCode(storeCode string) bool {
	return storeCode != "" &&
		h.storeViews.Multistore &&
		h.storeViews.AppendStoreCode &&
		storeCode != h.storeViews.DefaultStoreCode
}

func (h *Helpers) dispatcherPath(route domain.LocalizedRoute, storeCode string) string {
	path := route.FullPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if h.appendStoreCode(storeCode) {
		path = "/" + storeCode + path
	}
	if len(route.Params) > 0 {
		q := url.Values{}
		for k, v := range route.Params {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}
	return path
}

func (h *Helpers) localizedRoute(route domain.LocalizedRoute, storeCode string) domain.LocalizedRoute {
	if !h.appendStoreCode(storeCode) {
		return route
	}
	if route.Name != "" {
		route.Name = storeCode + "-" + route.Name
	}
	if route.Path != "" {
		route.Path = "/" + storeCode + "/" + strings.TrimPrefix(route.Path, "/")
	}
	return route
}

// mergeRoute overlays the set fields of over onto base.
func mergeRoute(base, over domain.LocalizedRoute) domain.LocalizedRoute {
	out := base.Clone()
	if over.Name != "" {
		out.Name = over.Name
	}
	if over.Path != "" {
		out.Path = over.Path
	}
	if over.FullPath != "" {
		out.FullPath = over.FullPath
	}
	if over.Component != "" {
		out.Component = over.Component
	}
	if over.Params != nil {
		out.Params = over.Clone().Params
	}
	return out
}
