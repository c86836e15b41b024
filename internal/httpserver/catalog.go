package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// CatalogHandlers serves the browsing pages.
type CatalogHandlers struct {
	catalog CatalogService
}

// NewCatalogHandlers constructs the browsing handlers.
func NewCatalogHandlers(catalog CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the browsing endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	r.Get("/home", h.home)
	r.Get("/categories", h.categories)
	r.Get("/categories/{categoryID}/subcategories", h.subCategories)
	r.Get("/collections/{slug}", h.collection)
	r.Get("/browse/{categoryID}", h.browse)
	r.Get("/products", h.storeProducts)
	r.Get("/products/{productID}", h.product)
}

func (h *CatalogHandlers) home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := h.catalog.Home(ctx, requestctx.StoreSlug(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) categories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.catalog.Categories(ctx, requestctx.StoreSlug(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *CatalogHandlers) subCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parentID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	categories, err := h.catalog.SubCategories(ctx, requestctx.StoreSlug(ctx), parentID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *CatalogHandlers) collection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	page, err := h.catalog.CollectionPage(ctx, requestctx.StoreSlug(ctx), slug, r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	page, err := h.catalog.CategoryPage(ctx, requestctx.StoreSlug(ctx), categoryID, r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) storeProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.catalog.StoreProducts(ctx, requestctx.StoreSlug(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *CatalogHandlers) product(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.catalog.Product(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}
