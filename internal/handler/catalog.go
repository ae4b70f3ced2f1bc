package handler

import (
	"net/http"

	"ppmt-amp-api/internal/service"
	"ppmt-amp-api/pkg/response"
)

// CatalogHandler serves the signed catalog endpoints over HTTP.
type CatalogHandler struct {
	gateway *service.Gateway
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(gateway *service.Gateway) *CatalogHandler {
	return &CatalogHandler{gateway: gateway}
}

// Query handles GET /prices and GET /series. The path is part of the signed
// payload, so both routes share one handler.
func (h *CatalogHandler) Query(w http.ResponseWriter, r *http.Request) {
	req := service.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Params: firstValues(r),
	}
	res := h.gateway.Handle(r.Context(), req)
	response.JSON(w, res.StatusCode, res.Body)
}

// Warm handles GET /warm
func (h *CatalogHandler) Warm(w http.ResponseWriter, r *http.Request) {
	res := h.gateway.Warm()
	response.JSON(w, res.StatusCode, res.Body)
}

func firstValues(r *http.Request) map[string]string {
	values := r.URL.Query()
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
