package http

import (
	"net/http"

	"cartsync/internal/domain"
	"cartsync/internal/service/urls"
)

func (s *Server) handleNormalizeURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": urls.NormalizeURLPath(req.URL)})
}

func (s *Server) handleParametrizeRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route     domain.LocalizedRoute `json:"route"`
		Query     map[string]string     `json:"query"`
		StoreCode string                `json:"store_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, urls.ParametrizeRouteData(req.Route, req.Query, req.StoreCode))
}

func (s *Server) handleCategoryLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category  *domain.Category `json:"category"`
		StoreCode string           `json:"store_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": s.urls.FormatCategoryLink(req.Category, req.StoreCode)})
}

func (s *Server) handleProductLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Product   domain.Product `json:"product"`
		StoreCode string         `json:"store_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Product.SKU == "" {
		writeError(w, http.StatusBadRequest, "product.sku is required")
		return
	}
	writeJSON(w, http.StatusOK, s.urls.FormatProductLink(req.Product, req.StoreCode))
}

func (s *Server) handleDynamicRoutes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route       domain.LocalizedRoute `json:"route"`
		FullPath    string                `json:"full_path"`
		AddToRoutes *bool                 `json:"add_to_routes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FullPath == "" {
		writeError(w, http.StatusBadRequest, "full_path is required")
		return
	}
	add := true
	if req.AddToRoutes != nil {
		add = *req.AddToRoutes
	}
	routes, ok := s.urls.ProcessDynamicRoute(req.Route, req.FullPath, add)
	if !ok {
		writeError(w, http.StatusNotFound, "route not found: "+req.Route.Name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": routes})
}

// handleRoutes resolves ?path= against the route table, or lists all routes.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": s.urls.Table().Routes()})
		return
	}
	route, ok := s.urls.FindRouteByPath(path)
	if !ok {
		writeError(w, http.StatusNotFound, "no route for path")
		return
	}
	writeJSON(w, http.StatusOK, route)
}
