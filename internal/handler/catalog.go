package handler

import (
	"log/slog"
	"net/http"

	"github.com/cyberguard/internal/catalog"
)

type CatalogHandler struct {
	BaseHandler
	catalog *catalog.Registry
}

func NewCatalogHandler(logger *slog.Logger, reg *catalog.Registry) *CatalogHandler {
	return &CatalogHandler{BaseHandler: BaseHandler{Logger: logger}, catalog: reg}
}

// Get lists the languages, categories and ID types a client needs to build
// its forms.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	err := h.writeJSON(w, http.StatusOK, envelope{
		"canonical":  h.catalog.Canonical(),
		"languages":  h.catalog.Languages(),
		"categories": h.catalog.Categories(),
		"idTypes":    h.catalog.IDTypes(),
	}, nil)
	if err != nil {
		h.serverErrorResponse(w, r, err)
	}
}
