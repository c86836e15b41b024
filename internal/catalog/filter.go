// Package catalog turns facet selections into listing queries and assembles
// collection and category pages.
package catalog

import (
	"net/url"
	"slices"
	"strings"

	"finitefield.org/storefront/internal/backend"
)

// QueryPrefix prefixes the query parameter carrying one property's checked options.
const QueryPrefix = "filterBy"

// FilterState tracks the checked options of each known facet property.
// Property order follows the definitions it was built from.
type FilterState struct {
	order   []string
	checked map[string][]string
}

// NewFilterState builds an empty state over properties.
func NewFilterState(properties []backend.Property) *FilterState {
	fs := &FilterState{
		order:   make([]string, 0, len(properties)),
		checked: make(map[string][]string, len(properties)),
	}
	for _, p := range properties {
		if _, dup := fs.checked[p.ID]; dup {
			continue
		}
		fs.order = append(fs.order, p.ID)
		fs.checked[p.ID] = nil
	}
	return fs
}

// ParseFilterState reads filterBy<propertyID> parameters for the known
// properties. Parameters for unknown properties are ignored.
func ParseFilterState(properties []backend.Property, query url.Values) *FilterState {
	fs := NewFilterState(properties)
	for _, id := range fs.order {
		for _, value := range query[QueryPrefix+id] {
			value = strings.TrimSpace(value)
			if value == "" || slices.Contains(fs.checked[id], value) {
				continue
			}
			fs.checked[id] = append(fs.checked[id], value)
		}
	}
	return fs
}

// Toggle checks option when it is unchecked and unchecks it otherwise. It
// reports false when propertyID is not a known property or option is blank.
func (fs *FilterState) Toggle(propertyID, option string) bool {
	option = strings.TrimSpace(option)
	current, ok := fs.checked[propertyID]
	if !ok || option == "" {
		return false
	}
	if i := slices.Index(current, option); i >= 0 {
		fs.checked[propertyID] = slices.Delete(slices.Clone(current), i, i+1)
		return true
	}
	fs.checked[propertyID] = append(slices.Clone(current), option)
	return true
}

// IsChecked reports whether option is checked for propertyID.
func (fs *FilterState) IsChecked(propertyID, option string) bool {
	return slices.Contains(fs.checked[propertyID], option)
}

// Checked returns the checked options for propertyID in toggle order.
func (fs *FilterState) Checked(propertyID string) []string {
	return slices.Clone(fs.checked[propertyID])
}

// Active reports whether any option is checked.
func (fs *FilterState) Active() bool {
	for _, values := range fs.checked {
		if len(values) > 0 {
			return true
		}
	}
	return false
}

// Values encodes the state as query parameters.
func (fs *FilterState) Values() url.Values {
	params := url.Values{}
	for _, id := range fs.order {
		for _, v := range fs.checked[id] {
			params.Add(QueryPrefix+id, v)
		}
	}
	return params
}

// Encode returns the canonical query string, empty when nothing is checked.
func (fs *FilterState) Encode() string {
	return fs.Values().Encode()
}

// CollectionBody is the facet map posted to the collection listing. Once any
// option is checked every known property is sent, unchecked ones as empty
// lists; with nothing checked it is nil.
func (fs *FilterState) CollectionBody() map[string][]string {
	if !fs.Active() {
		return nil
	}
	body := make(map[string][]string, len(fs.order))
	for _, id := range fs.order {
		body[id] = fs.valuesOf(id)
	}
	return body
}

// CategoryProperties is the facet list sent to the category listing, shaped
// like CollectionBody.
func (fs *FilterState) CategoryProperties() []backend.PropertyFilter {
	if !fs.Active() {
		return nil
	}
	out := make([]backend.PropertyFilter, 0, len(fs.order))
	for _, id := range fs.order {
		out = append(out, backend.PropertyFilter{Key: id, Value: fs.valuesOf(id)})
	}
	return out
}

func (fs *FilterState) valuesOf(id string) []string {
	values := fs.checked[id]
	if len(values) == 0 {
		return []string{}
	}
	return slices.Clone(values)
}
