package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const (
	pathFilters              = "/api/collections/get-filters"
	pathCollectionBySlug     = "/api/collections/get-collection-by-slug-and-store-slug"
	pathProductsByCollection = "/api/collections/get-products-by-collection-slug-and-store-slug"
	pathCategoryByID         = "/api/collections/get-category-by-id-and-store-slug"
	pathProductsByCategory   = "/api/collections/get-products-by-category-id-and-store-slug"
	pathSubCategories        = "/api/categories/get-sub-categories-by-parent-id-and-store-slug"
	pathCategories           = "/api/categories/get-categories-by-store-slug"
	pathProductByID          = "/api/products/get-product-by-id"
	pathProductsByIDs        = "/api/products/get-products-by-ids"
	pathProductsByStore      = "/api/products/get-products-by-store-slug"
	pathOrderLookup          = "/api/orders/get-order-by-reference-or-slug"
	pathOrderInitialize      = "/api/orders/initialize"
	pathStates               = "/api/terminal/states"
	pathCities               = "/api/terminal/cities"
	pathRates                = "/api/terminal/rates"
	pathContents             = "/api/contents/get-contents-by-store-slug"
	pathImageURL             = "/api/contents/get-image-url"
	pathGenerateUploadURL    = "/api/contents/generate-upload-url"
	pathDeliveryInfo         = "/api/delivery/get-info"
)

// Filters lists the facet properties a store exposes.
func (c *Client) Filters(ctx context.Context, storeSlug string) ([]Property, error) {
	return getJSON[[]Property](ctx, c, "filters", pathFilters, url.Values{"storeSlug": {storeSlug}})
}

// CollectionBySlug fetches one collection of a store.
func (c *Client) CollectionBySlug(ctx context.Context, storeSlug, slug string) (Collection, error) {
	return getJSON[Collection](ctx, c, "collection_by_slug", pathCollectionBySlug, url.Values{
		"storeSlug": {storeSlug},
		"slug":      {slug},
	})
}

// ProductsByCollection lists a collection's products. filters maps property
// ids to accepted values; an empty map sends no body.
func (c *Client) ProductsByCollection(ctx context.Context, storeSlug, collectionSlug string, filters map[string][]string) ([]Product, error) {
	var body any
	if len(filters) > 0 {
		body = filters
	}
	return postJSON[[]Product](ctx, c, request{
		op:       "products_by_collection",
		endpoint: pathProductsByCollection,
		params:   url.Values{"storeSlug": {storeSlug}, "collectionSlug": {collectionSlug}},
		body:     body,
	})
}

// CategoryByID fetches one category of a store.
func (c *Client) CategoryByID(ctx context.Context, storeSlug, categoryID string) (Category, error) {
	return getJSON[Category](ctx, c, "category_by_id", pathCategoryByID, url.Values{
		"storeSlug":  {storeSlug},
		"categoryId": {categoryID},
	})
}

// ProductsByCategory lists a category's products narrowed by properties.
func (c *Client) ProductsByCategory(ctx context.Context, storeSlug, categoryID string, properties []PropertyFilter) ([]Product, error) {
	params := url.Values{"storeSlug": {storeSlug}, "categoryId": {categoryID}}
	if len(properties) > 0 {
		encoded, err := json.Marshal(properties)
		if err != nil {
			return nil, &Error{Op: "products_by_category", Err: err}
		}
		params.Set("properties", string(encoded))
	}
	return getJSON[[]Product](ctx, c, "products_by_category", pathProductsByCategory, params)
}

// SubCategories lists the children of parentID.
func (c *Client) SubCategories(ctx context.Context, storeSlug, parentID string) ([]Category, error) {
	return getJSON[[]Category](ctx, c, "sub_categories", pathSubCategories, url.Values{
		"storeSlug": {storeSlug},
		"parentId":  {parentID},
	})
}

// Categories lists every category of a store.
func (c *Client) Categories(ctx context.Context, storeSlug string) ([]Category, error) {
	return getJSON[[]Category](ctx, c, "categories", pathCategories, url.Values{"storeSlug": {storeSlug}})
}

// ProductByID fetches the detail view of one product.
func (c *Client) ProductByID(ctx context.Context, id string) (RichProduct, error) {
	return getJSON[RichProduct](ctx, c, "product_by_id", pathProductByID, url.Values{"id": {id}})
}

// ProductsByIDs fetches detail views for ids in one request. Products the
// backend no longer knows are simply absent from the result.
func (c *Client) ProductsByIDs(ctx context.Context, ids []string) ([]RichProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return getJSON[[]RichProduct](ctx, c, "products_by_ids", pathProductsByIDs, url.Values{"ids": {strings.Join(ids, ",")}})
}

// ProductsByStore lists every product of a store with its collections.
func (c *Client) ProductsByStore(ctx context.Context, storeSlug string) ([]StoreProduct, error) {
	return getJSON[[]StoreProduct](ctx, c, "products_by_store", pathProductsByStore, url.Values{"storeSlug": {storeSlug}})
}

// OrderByReferenceOrSlug looks an order up. It returns nil without error when
// the backend has no such order or when the lookup is empty.
func (c *Client) OrderByReferenceOrSlug(ctx context.Context, lookup OrderLookup) (*Order, error) {
	params := url.Values{}
	switch {
	case strings.TrimSpace(lookup.Reference) != "":
		params.Set("reference", strings.TrimSpace(lookup.Reference))
	case strings.TrimSpace(lookup.Slug) != "":
		params.Set("slug", strings.TrimSpace(lookup.Slug))
	default:
		return nil, nil
	}
	return getJSON[*Order](ctx, c, "order_lookup", pathOrderLookup, params)
}

// InitializeOrder creates a pending order and returns the payment redirect.
func (c *Client) InitializeOrder(ctx context.Context, req InitializeOrderRequest) (InitializeOrderResponse, error) {
	return postJSON[InitializeOrderResponse](ctx, c, request{
		op:       "order_initialize",
		endpoint: pathOrderInitialize,
		body:     req,
		headers:  map[string]string{idempotencyHeader: req.IdempotencyKey},
	})
}

// States lists the regions the carrier integration serves.
func (c *Client) States(ctx context.Context) ([]State, error) {
	return getJSON[[]State](ctx, c, "states", pathStates, nil)
}

// Cities lists the cities of a state by ISO code.
func (c *Client) Cities(ctx context.Context, stateCode string) ([]City, error) {
	return getJSON[[]City](ctx, c, "cities", pathCities, url.Values{"stateCode": {stateCode}})
}

// Rates requests carrier quotes for delivering items to an address.
func (c *Client) Rates(ctx context.Context, req RatesRequest) ([]ShipmentRate, error) {
	return postJSON[[]ShipmentRate](ctx, c, request{op: "rates", endpoint: pathRates, body: req})
}

// Contents lists a store's home page blocks.
func (c *Client) Contents(ctx context.Context, storeSlug string) ([]Content, error) {
	const op = "contents"
	data, err := c.call(ctx, request{op: op, method: http.MethodGet, endpoint: pathContents, params: url.Values{"storeSlug": {storeSlug}}})
	if err != nil {
		return nil, err
	}
	blocks, err := c.decodeContents(data)
	if err != nil {
		return nil, &ValidationError{Op: op, Err: err}
	}
	return blocks, nil
}

// ImageURL resolves a stored image id to a public URL.
func (c *Client) ImageURL(ctx context.Context, imageID string) (string, error) {
	return getJSON[string](ctx, c, "image_url", pathImageURL, url.Values{"imageId": {imageID}})
}

// GenerateUploadURL asks the backend for a one-off upload URL.
func (c *Client) GenerateUploadURL(ctx context.Context) (string, error) {
	return postJSON[string](ctx, c, request{op: "generate_upload_url", endpoint: pathGenerateUploadURL})
}

// DeliveryInfo fetches a store's delivery configuration.
func (c *Client) DeliveryInfo(ctx context.Context, storeSlug string) (DeliveryInfo, error) {
	const op = "delivery_info"
	data, err := c.call(ctx, request{op: op, method: http.MethodGet, endpoint: pathDeliveryInfo, params: url.Values{"storeSlug": {storeSlug}}})
	if err != nil {
		return nil, err
	}
	info, err := c.decodeDeliveryInfo(data)
	if err != nil {
		return nil, &ValidationError{Op: op, Err: err}
	}
	return info, nil
}
