package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/backend"
)

func TestCatalogCollectionPassesFilterQuery(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/collections/summer?filterBycolor=Red&filterBysize=M", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "acme", ts.catalog.lastSlug)
	require.Equal(t, []string{"Red"}, ts.catalog.lastQuery["filterBycolor"])
	body := decodeBody(t, rr)
	require.Equal(t, "summer", body["collection"].(map[string]any)["slug"])
}

func TestCatalogBrowseCategory(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/browse/c9?toggleProperty=size", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "size", ts.catalog.lastQuery.Get("toggleProperty"))
	require.Equal(t, "c9", decodeBody(t, rr)["category"].(map[string]any)["_id"])
}

func TestCatalogSubCategories(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/categories/c1/subcategories", "")

	require.Equal(t, http.StatusOK, rr.Code)
	categories := decodeBody(t, rr)["categories"].([]any)
	require.Len(t, categories, 1)
	require.Equal(t, "c1", categories[0].(map[string]any)["parentId"])
}

func TestCatalogStoreProducts(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/products", "", "X-Store-Slug", "bolt")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "bolt", ts.catalog.lastSlug)
	require.Len(t, decodeBody(t, rr)["products"], 1)
}

func TestCatalogProductNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.err = &backend.Error{Op: "product", Status: http.StatusNotFound}

	rr := ts.do(t, http.MethodGet, "/api/products/missing", "")

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeBody(t, rr)["error"])
}

func TestCatalogBackendUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.err = backend.ErrUnavailable

	rr := ts.do(t, http.MethodGet, "/api/home", "")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
