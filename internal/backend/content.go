package backend

import (
	"encoding/json"
	"fmt"
)

// Content block names used on store home pages.
const (
	ContentBanner             = "banner"
	ContentCategories         = "categories"
	ContentCarousel           = "carousel"
	ContentProductCarousel    = "productCarousel"
	ContentCollectionCarousel = "collectionCarousel"
)

// Content is one home page block. The concrete types are BannerContent,
// CategoriesContent, CarouselContent, ProductCarouselContent and
// CollectionCarouselContent.
type Content interface {
	ContentName() string
	// ImageIDs lists the image references the block needs resolved.
	ImageIDs() []string
}

// BannerContent is a single linked image.
type BannerContent struct {
	ImageID string `json:"imageId" validate:"required"`
	Link    string `json:"link" validate:"required,url"`
}

func (BannerContent) ContentName() string  { return ContentBanner }
func (b BannerContent) ImageIDs() []string { return []string{b.ImageID} }

// CategoryTile links an image to a category.
type CategoryTile struct {
	ImageID    string `json:"imageId" validate:"required"`
	Title      string `json:"title" validate:"required"`
	CategoryID string `json:"categoryId" validate:"required"`
}

// CategoriesContent is a grid of category tiles.
type CategoriesContent struct {
	Items []CategoryTile `json:"items" validate:"min=1,dive"`
}

func (CategoriesContent) ContentName() string { return ContentCategories }
func (c CategoriesContent) ImageIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ImageID)
	}
	return ids
}

// CarouselSlide links an image to a collection.
type CarouselSlide struct {
	ImageID      string `json:"imageId" validate:"required"`
	CollectionID string `json:"collectionId"`
}

// CarouselContent is the hero image carousel.
type CarouselContent struct {
	Content []CarouselSlide `json:"content" validate:"min=1,dive"`
}

func (CarouselContent) ContentName() string { return ContentCarousel }
func (c CarouselContent) ImageIDs() []string {
	ids := make([]string, 0, len(c.Content))
	for _, slide := range c.Content {
		ids = append(ids, slide.ImageID)
	}
	return ids
}

// ProductCarouselContent shows products of one collection.
type ProductCarouselContent struct {
	Title        string `json:"title" validate:"required"`
	Description  string `json:"description" validate:"required"`
	CollectionID string `json:"collectionId" validate:"required"`
}

func (ProductCarouselContent) ContentName() string { return ContentProductCarousel }
func (ProductCarouselContent) ImageIDs() []string  { return nil }

// CollectionTile links an image to a collection with copy.
type CollectionTile struct {
	ImageID      string `json:"imageId" validate:"required"`
	Title        string `json:"title" validate:"required"`
	Description  string `json:"description" validate:"required"`
	CollectionID string `json:"collectionId" validate:"required"`
}

// CollectionCarouselContent is a carousel of collection tiles.
type CollectionCarouselContent struct {
	Items []CollectionTile `json:"items" validate:"min=1,dive"`
}

func (CollectionCarouselContent) ContentName() string { return ContentCollectionCarousel }
func (c CollectionCarouselContent) ImageIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ImageID)
	}
	return ids
}

type contentEnvelope struct {
	Name   string          `json:"name"`
	Object json.RawMessage `json:"object"`
}

func (c *Client) decodeContents(data []byte) ([]Content, error) {
	var envelopes []contentEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, err
	}
	out := make([]Content, 0, len(envelopes))
	for i, env := range envelopes {
		block, err := c.decodeContent(env)
		if err != nil {
			return nil, fmt.Errorf("content %d: %w", i, err)
		}
		out = append(out, block)
	}
	return out, nil
}

func (c *Client) decodeContent(env contentEnvelope) (Content, error) {
	var block Content
	switch env.Name {
	case ContentBanner:
		block = &BannerContent{}
	case ContentCategories:
		block = &CategoriesContent{}
	case ContentCarousel:
		block = &CarouselContent{}
	case ContentProductCarousel:
		block = &ProductCarouselContent{}
	case ContentCollectionCarousel:
		block = &CollectionCarouselContent{}
	default:
		return nil, fmt.Errorf("unknown content %q", env.Name)
	}
	if err := json.Unmarshal(env.Object, block); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(block); err != nil {
		return nil, err
	}
	return derefContent(block), nil
}

func derefContent(block Content) Content {
	switch v := block.(type) {
	case *BannerContent:
		return *v
	case *CategoriesContent:
		return *v
	case *CarouselContent:
		return *v
	case *ProductCarouselContent:
		return *v
	case *CollectionCarouselContent:
		return *v
	default:
		return block
	}
}

// MarshalContent renders a block in the backend's {name, object} shape.
func MarshalContent(block Content) ([]byte, error) {
	return json.Marshal(contentJSON{Name: block.ContentName(), Object: block})
}

type contentJSON struct {
	Name   string `json:"name"`
	Object any    `json:"object"`
}
