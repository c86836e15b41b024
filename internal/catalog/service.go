package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	// ToggleProperty and ToggleOption name the query parameters that flip one
	// facet option before the listing is fetched.
	ToggleProperty = "toggleProperty"
	ToggleOption   = "toggleOption"

	imageLookupConcurrency = 4
)

// Backend is the slice of the commerce backend the catalog pages read.
type Backend interface {
	Filters(ctx context.Context, storeSlug string) ([]backend.Property, error)
	CollectionBySlug(ctx context.Context, storeSlug, slug string) (backend.Collection, error)
	ProductsByCollection(ctx context.Context, storeSlug, collectionSlug string, filters map[string][]string) ([]backend.Product, error)
	CategoryByID(ctx context.Context, storeSlug, categoryID string) (backend.Category, error)
	ProductsByCategory(ctx context.Context, storeSlug, categoryID string, properties []backend.PropertyFilter) ([]backend.Product, error)
	Categories(ctx context.Context, storeSlug string) ([]backend.Category, error)
	SubCategories(ctx context.Context, storeSlug, parentID string) ([]backend.Category, error)
	ProductByID(ctx context.Context, id string) (backend.RichProduct, error)
	ProductsByStore(ctx context.Context, storeSlug string) ([]backend.StoreProduct, error)
	Contents(ctx context.Context, storeSlug string) ([]backend.Content, error)
	ImageURL(ctx context.Context, imageID string) (string, error)
}

// ErrBackendMissing indicates the service was built without a backend.
var ErrBackendMissing = errors.New("catalog: backend is not configured")

// OptionView is one facet option with its checked state.
type OptionView struct {
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
}

// FilterView is one facet property as shown next to a listing.
type FilterView struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Options []OptionView `json:"options"`
}

// ListingPage is a collection or category listing narrowed by facets.
type ListingPage struct {
	Collection *backend.Collection `json:"collection,omitempty"`
	Category   *backend.Category   `json:"category,omitempty"`
	Filters    []FilterView        `json:"filters"`
	Products   []backend.Product   `json:"products"`
	Query      string              `json:"query"`
}

// HomeBlock is one content block of the home page.
type HomeBlock struct {
	Name   string          `json:"name"`
	Object backend.Content `json:"object"`
}

// HomePage lists the store's content blocks with their images resolved.
type HomePage struct {
	Blocks []HomeBlock        `json:"blocks"`
	Images map[string]string `json:"images"`
}

// ServiceDeps bundles constructor inputs for the catalog service.
type ServiceDeps struct {
	Backend Backend
	// Policy sanitises merchant-authored rich text. Defaults to bluemonday's UGC policy.
	Policy *bluemonday.Policy
}

// Service assembles catalog pages from backend data.
type Service struct {
	backend Backend
	policy  *bluemonday.Policy
}

// NewService constructs the catalog service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Backend == nil {
		return nil, ErrBackendMissing
	}
	policy := deps.Policy
	if policy == nil {
		policy = bluemonday.UGCPolicy()
	}
	return &Service{backend: deps.Backend, policy: policy}, nil
}

// CollectionPage loads a collection with its facets and the products matching
// the checked options in query.
func (s *Service) CollectionPage(ctx context.Context, storeSlug, slug string, query url.Values) (ListingPage, error) {
	var (
		properties []backend.Property
		collection backend.Collection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		properties, err = s.backend.Filters(gctx, storeSlug)
		return err
	})
	g.Go(func() (err error) {
		collection, err = s.backend.CollectionBySlug(gctx, storeSlug, slug)
		return err
	})
	if err := g.Wait(); err != nil {
		return ListingPage{}, fmt.Errorf("catalog: collection %q: %w", slug, err)
	}

	state := filterStateFromQuery(properties, query)
	products, err := s.backend.ProductsByCollection(ctx, storeSlug, slug, state.CollectionBody())
	if err != nil {
		return ListingPage{}, fmt.Errorf("catalog: collection %q products: %w", slug, err)
	}
	return ListingPage{
		Collection: &collection,
		Filters:    filterViews(properties, state),
		Products:   nonNilProducts(products),
		Query:      state.Encode(),
	}, nil
}

// CategoryPage loads a category with its facets and matching products.
func (s *Service) CategoryPage(ctx context.Context, storeSlug, categoryID string, query url.Values) (ListingPage, error) {
	var (
		properties []backend.Property
		category   backend.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		properties, err = s.backend.Filters(gctx, storeSlug)
		return err
	})
	g.Go(func() (err error) {
		category, err = s.backend.CategoryByID(gctx, storeSlug, categoryID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ListingPage{}, fmt.Errorf("catalog: category %q: %w", categoryID, err)
	}

	state := filterStateFromQuery(properties, query)
	products, err := s.backend.ProductsByCategory(ctx, storeSlug, categoryID, state.CategoryProperties())
	if err != nil {
		return ListingPage{}, fmt.Errorf("catalog: category %q products: %w", categoryID, err)
	}
	return ListingPage{
		Category: &category,
		Filters:  filterViews(properties, state),
		Products: nonNilProducts(products),
		Query:    state.Encode(),
	}, nil
}

// Categories lists the store's categories.
func (s *Service) Categories(ctx context.Context, storeSlug string) ([]backend.Category, error) {
	categories, err := s.backend.Categories(ctx, storeSlug)
	if err != nil {
		return nil, fmt.Errorf("catalog: categories: %w", err)
	}
	return categories, nil
}

// StoreProducts lists every product of the store.
func (s *Service) StoreProducts(ctx context.Context, storeSlug string) ([]backend.StoreProduct, error) {
	products, err := s.backend.ProductsByStore(ctx, storeSlug)
	if err != nil {
		return nil, fmt.Errorf("catalog: store products: %w", err)
	}
	return products, nil
}

// SubCategories lists the children of parentID.
func (s *Service) SubCategories(ctx context.Context, storeSlug, parentID string) ([]backend.Category, error) {
	categories, err := s.backend.SubCategories(ctx, storeSlug, parentID)
	if err != nil {
		return nil, fmt.Errorf("catalog: sub categories of %q: %w", parentID, err)
	}
	return categories, nil
}

// Product loads a product detail record with its rich text sanitised.
func (s *Service) Product(ctx context.Context, id string) (backend.RichProduct, error) {
	product, err := s.backend.ProductByID(ctx, id)
	if err != nil {
		return backend.RichProduct{}, fmt.Errorf("catalog: product %q: %w", id, err)
	}
	product.AdditionalInformation = s.policy.Sanitize(product.AdditionalInformation)
	return product, nil
}

// Home loads the store's content blocks and resolves every referenced image.
// Images that fail to resolve are logged and left out of the map.
func (s *Service) Home(ctx context.Context, storeSlug string) (HomePage, error) {
	blocks, err := s.backend.Contents(ctx, storeSlug)
	if err != nil {
		return HomePage{}, fmt.Errorf("catalog: contents: %w", err)
	}

	page := HomePage{Blocks: make([]HomeBlock, 0, len(blocks)), Images: map[string]string{}}
	var ids []string
	seen := map[string]struct{}{}
	for _, block := range blocks {
		page.Blocks = append(page.Blocks, HomeBlock{Name: block.ContentName(), Object: block})
		for _, id := range block.ImageIDs() {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageLookupConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			resolved, err := s.backend.ImageURL(gctx, id)
			if err != nil {
				requestctx.Logger(ctx).Warn("image url lookup failed", zap.String("image_id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			page.Images[id] = resolved
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return page, nil
}

func filterStateFromQuery(properties []backend.Property, query url.Values) *FilterState {
	state := ParseFilterState(properties, query)
	property := strings.TrimSpace(query.Get(ToggleProperty))
	option := strings.TrimSpace(query.Get(ToggleOption))
	if property != "" && option != "" {
		state.Toggle(property, option)
	}
	return state
}

func filterViews(properties []backend.Property, state *FilterState) []FilterView {
	views := make([]FilterView, 0, len(properties))
	for _, p := range properties {
		view := FilterView{ID: p.ID, Name: p.Name, Options: make([]OptionView, 0, len(p.Options))}
		for _, option := range p.Options {
			view.Options = append(view.Options, OptionView{Name: option, Checked: state.IsChecked(p.ID, option)})
		}
		views = append(views, view)
	}
	return views
}

func nonNilProducts(products []backend.Product) []backend.Product {
	if products == nil {
		return []backend.Product{}
	}
	return products
}
