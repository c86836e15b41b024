// Package cart owns a visitor's ordered list of cart lines and turns it into
// priced, display-ready data.
package cart

import (
	"finitefield.org/storefront/internal/backend"
)

// Item is one cart line. Lines are identified by position, not by product: the
// same product may appear several times with different selections.
type Item struct {
	ProductID string                  `json:"productId" validate:"required,max=128"`
	Quantity  int                     `json:"quantity" validate:"gte=0,lte=999"`
	Variants  []backend.Selection     `json:"variants,omitempty" validate:"max=20,dive"`
	Metadatas []backend.MetadataValue `json:"metadatas,omitempty" validate:"max=20,dive"`
}

// Store is one visitor's cart. Quantities are always at least 1.
type Store struct {
	items []Item
}

// NewStore wraps items, normalising any quantity below 1 to 1.
func NewStore(items []Item) *Store {
	s := &Store{items: make([]Item, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Items returns a copy of the lines in order.
func (s *Store) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len reports the number of lines.
func (s *Store) Len() int { return len(s.items) }

// Add appends item. Identical lines are not merged.
func (s *Store) Add(item Item) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	s.items = append(s.items, item)
}

// Remove deletes the line at index; later lines shift down by one. Out of
// range indices are ignored.
func (s *Store) Remove(index int) {
	if !s.valid(index) {
		return
	}
	s.items = append(s.items[:index], s.items[index+1:]...)
}

// Increment adds one to the quantity at index.
func (s *Store) Increment(index int) {
	if !s.valid(index) {
		return
	}
	s.items[index].Quantity++
}

// Decrement removes one from the quantity at index, dropping the line when it
// would reach zero.
func (s *Store) Decrement(index int) {
	if !s.valid(index) {
		return
	}
	if s.items[index].Quantity <= 1 {
		s.Remove(index)
		return
	}
	s.items[index].Quantity--
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.items = s.items[:0]
}

// ItemQuantity returns the quantity of the first line for productID, or 0.
// Later lines for the same product are not added in.
func (s *Store) ItemQuantity(productID string) int {
	for _, item := range s.items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// TotalItems sums the quantities of every line.
func (s *Store) TotalItems() int {
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// ProductIDs lists the distinct product ids in first-seen order.
func (s *Store) ProductIDs() []string {
	return distinctProductIDs(s.items)
}

func (s *Store) valid(index int) bool {
	return index >= 0 && index < len(s.items)
}

func distinctProductIDs(items []Item) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
