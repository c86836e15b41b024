package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	storageName    = "cart-storage"
	storageVersion = 1
)

// persisted mirrors the versioned record shoppers' carts are stored as.
type persisted struct {
	Version int `json:"version"`
	State   struct {
		Items []Item `json:"items"`
	} `json:"state"`
}

// Repository loads and saves carts by visitor id. Carts never expire.
type Repository struct {
	store kv.Store
}

// NewRepository builds a repository over store.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

// Key returns the storage key for a visitor's cart.
func Key(visitorID string) string {
	return fmt.Sprintf("%s:v%d:%s", storageName, storageVersion, visitorID)
}

// Load returns the visitor's cart, empty when nothing is stored yet. A record
// written under another version is discarded.
func (r *Repository) Load(ctx context.Context, visitorID string) (*Store, error) {
	var doc persisted
	err := kv.GetJSON(ctx, r.store, Key(visitorID), &doc)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return NewStore(nil), nil
	case err != nil:
		return nil, fmt.Errorf("cart: load: %w", err)
	}
	if doc.Version != storageVersion {
		requestctx.Logger(ctx).Warn("discarding cart with unknown version", zap.Int("version", doc.Version))
		return NewStore(nil), nil
	}
	return NewStore(doc.State.Items), nil
}

// Save persists the cart.
func (r *Repository) Save(ctx context.Context, visitorID string, s *Store) error {
	doc := persisted{Version: storageVersion}
	doc.State.Items = s.Items()
	if err := kv.SetJSON(ctx, r.store, Key(visitorID), doc, 0); err != nil {
		return fmt.Errorf("cart: save: %w", err)
	}
	return nil
}

// Update loads the cart, applies fn and saves the result.
func (r *Repository) Update(ctx context.Context, visitorID string, fn func(*Store)) (*Store, error) {
	s, err := r.Load(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	fn(s)
	if err := r.Save(ctx, visitorID, s); err != nil {
		return nil, err
	}
	return s, nil
}
