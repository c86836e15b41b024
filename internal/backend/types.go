package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Property is a filterable facet defined by a store.
type Property struct {
	ID         string   `json:"_id" validate:"required"`
	Name       string   `json:"name" validate:"required"`
	StoreID    string   `json:"storeId"`
	CategoryID string   `json:"categoryId"`
	Options    []string `json:"options,omitempty"`
	Type       string   `json:"type" validate:"oneof=string number array"`
}

// PropertyValue holds a product property value, which the backend sends as a
// string, a number or a list of strings.
type PropertyValue struct {
	Values []string
	Number bool
}

// UnmarshalJSON accepts every shape the backend uses for property values.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = PropertyValue{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = PropertyValue{Values: []string{s}}
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*v = PropertyValue{Values: list}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("property value: %w", err)
		}
		*v = PropertyValue{Values: []string{n.String()}, Number: true}
	}
	return nil
}

// MarshalJSON writes the value back in its original shape.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	switch {
	case len(v.Values) == 1 && v.Number:
		if _, err := strconv.ParseFloat(v.Values[0], 64); err == nil {
			return []byte(v.Values[0]), nil
		}
		return json.Marshal(v.Values[0])
	case len(v.Values) == 1:
		return json.Marshal(v.Values[0])
	case v.Values == nil:
		return []byte("[]"), nil
	default:
		return json.Marshal(v.Values)
	}
}

// ProductProperty links a product to a facet value. Property is populated on
// detail responses only.
type ProductProperty struct {
	PropertyID string        `json:"propertyId" validate:"required"`
	Value      PropertyValue `json:"value"`
	Property   *Property     `json:"property,omitempty"`
}

// VariantOption is one selectable option with its price delta over the base price.
type VariantOption struct {
	Name          string          `json:"name" validate:"required"`
	Price         decimal.Decimal `json:"price"`
	ImageID       string          `json:"imageId,omitempty"`
	Image         string          `json:"image,omitempty"`
	Stock         int             `json:"stock"`
	IsUnspecified bool            `json:"isUnspecified"`
}

// Variant groups the options for one dimension such as size or colour.
type Variant struct {
	Name    string          `json:"name" validate:"required"`
	Options []VariantOption `json:"options" validate:"dive"`
}

// TerminalSpec carries the parcel data the carrier needs for rate quotes.
type TerminalSpec struct {
	Weight    decimal.Decimal `json:"weight"`
	PackageID string          `json:"packageId"`
}

// Product is the listing shape returned by collection and category queries.
type Product struct {
	ID                    string            `json:"_id" validate:"required"`
	StoreID               string            `json:"storeId"`
	Images                []string          `json:"images"`
	Name                  string            `json:"name" validate:"required"`
	AdditionalInformation string            `json:"additionalInformation,omitempty"`
	Price                 decimal.Decimal   `json:"price" validate:"gte=0"`
	Stock                 int               `json:"stock"`
	UnitType              string            `json:"unitType"`
	IsUnspecified         bool              `json:"isUnspecified"`
	CategoryID            string            `json:"categoryId"`
	Variants              []Variant         `json:"variants,omitempty" validate:"dive"`
	Properties            []ProductProperty `json:"properties" validate:"dive"`
	MetadataIDs           []string          `json:"metadataIds,omitempty"`
	Terminal              *TerminalSpec     `json:"terminal,omitempty"`
	MainImage             string            `json:"mainImage,omitempty"`
}

// VariantOptionPrice returns the price delta for value within the named
// variant, or false when either cannot be resolved.
func (p Product) VariantOptionPrice(name, value string) (decimal.Decimal, bool) {
	for _, variant := range p.Variants {
		if variant.Name != name {
			continue
		}
		for _, option := range variant.Options {
			if option.Name == value {
				return option.Price, true
			}
		}
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

// Metadata describes a per-product input the shopper fills in, such as engraving text.
type Metadata struct {
	ID      string `json:"_id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	StoreID string `json:"storeId"`
	Type    string `json:"type" validate:"oneof=string number array image"`
}

// ProductMetadata wraps a Metadata definition attached to a product.
type ProductMetadata struct {
	ID       string   `json:"_id" validate:"required"`
	Metadata Metadata `json:"metadata"`
}

// RichProduct is the detail shape with resolved images, category path and metadata.
type RichProduct struct {
	Product
	ImageURLs    []string          `json:"imageUrls"`
	CategoryTree []Category        `json:"categoryTree" validate:"dive"`
	Unit         string            `json:"unit,omitempty"`
	Metadatas    []ProductMetadata `json:"metadatas,omitempty" validate:"dive"`
}

// CollectionRef is the short collection record embedded in store product listings.
type CollectionRef struct {
	ID      string `json:"_id" validate:"required"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	StoreID string `json:"storeId"`
}

// StoreProduct is the flat listing returned for a whole store.
type StoreProduct struct {
	ID                    string          `json:"_id" validate:"required"`
	Name                  string          `json:"name" validate:"required"`
	AdditionalInformation string          `json:"additionalInformation,omitempty"`
	Price                 decimal.Decimal `json:"price" validate:"gte=0"`
	Images                []string        `json:"images"`
	ImageURLs             []string        `json:"imageUrls"`
	StoreID               string          `json:"storeId"`
	CategoryID            string          `json:"categoryId"`
	Collections           []CollectionRef `json:"collections" validate:"dive"`
}

// Category is a node in a store's category tree.
type Category struct {
	ID       string `json:"_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	StoreID  string `json:"storeId"`
	ParentID string `json:"parentId,omitempty"`
}

// Collection is a curated product grouping addressed by slug.
type Collection struct {
	ID          string `json:"_id" validate:"required"`
	StoreID     string `json:"storeId"`
	Name        string `json:"name" validate:"required"`
	Slug        string `json:"slug" validate:"required"`
	Description string `json:"description,omitempty"`
	ImageID     string `json:"imageId,omitempty"`
}

// PropertyFilter is one active facet in the category product query.
type PropertyFilter struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

// Selection is a chosen variant value carried on cart and order lines.
type Selection struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// MetadataValue is a shopper-provided metadata answer; Value is a string or a number.
type MetadataValue struct {
	Name  string          `json:"name" validate:"required"`
	Value json.RawMessage `json:"value"`
}

// OrderItem is a priced line on a placed order.
type OrderItem struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Variants  []Selection     `json:"variants,omitempty" validate:"dive"`
	Metadatas []MetadataValue `json:"metadatas,omitempty" validate:"dive"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// Order statuses reported by the backend. Other values may appear.
const (
	OrderStatusPending = "pending"
	OrderStatusSuccess = "success"
)

// Order is a placed order as stored by the backend.
type Order struct {
	ID                     string          `json:"_id" validate:"required"`
	Slug                   string          `json:"slug" validate:"required"`
	Items                  []OrderItem     `json:"items" validate:"dive"`
	FirstName              string          `json:"firstName"`
	LastName               string          `json:"lastName"`
	Line1                  string          `json:"line1"`
	Line2                  string          `json:"line2,omitempty"`
	State                  string          `json:"state"`
	City                   string          `json:"city"`
	Zip                    string          `json:"zip"`
	Country                string          `json:"country"`
	RateID                 string          `json:"rateId"`
	Phone                  string          `json:"phone"`
	Email                  string          `json:"email"`
	TerminalAddressID      string          `json:"terminalAddressId"`
	TerminalParcelID       string          `json:"terminalParcelId"`
	TerminalTrackingNumber string          `json:"terminalTrackingNumber,omitempty"`
	TerminalTrackingURL    string          `json:"terminalTrackingUrl,omitempty"`
	StoreID                string          `json:"storeId"`
	Amount                 decimal.Decimal `json:"amount"`
	Shipping               decimal.Decimal `json:"shipping"`
	URL                    string          `json:"url,omitempty"`
	AccessCode             string          `json:"accessCode,omitempty"`
	Reference              string          `json:"reference,omitempty"`
	Status                 string          `json:"status"`
}

// OrderLookup selects an order by payment reference or by slug; reference wins.
type OrderLookup struct {
	Reference string
	Slug      string
}

// OrderLine is a cart line as sent to order initialisation.
type OrderLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Metadatas []MetadataValue `json:"metadatas,omitempty"`
	Variants  []Selection     `json:"variants,omitempty"`
}

// TerminalSelection references the chosen carrier quote.
type TerminalSelection struct {
	TerminalAddressID string `json:"terminalAddressId"`
	TerminalParcelID  string `json:"terminalParcelId"`
	RateID            string `json:"rateId"`
}

// CustomSelection names the chosen flat-rate offering.
type CustomSelection struct {
	SelectedOffering string `json:"selectedOffering"`
}

// InitializeOrderRequest is the full checkout payload.
type InitializeOrderRequest struct {
	CallbackURL        string             `json:"callbackUrl"`
	StoreSlug          string             `json:"storeSlug"`
	FirstName          string             `json:"firstName"`
	LastName           string             `json:"lastName"`
	Email              string             `json:"email"`
	Phone              string             `json:"phone"`
	Line1              string             `json:"line1"`
	Line2              string             `json:"line2,omitempty"`
	City               string             `json:"city"`
	State              string             `json:"state"`
	Country            string             `json:"country"`
	Zip                string             `json:"zip"`
	Items              []OrderLine        `json:"items"`
	TerminalInfo       *TerminalSelection `json:"terminalInfo,omitempty"`
	CustomDeliveryInfo *CustomSelection   `json:"customDeliveryInfo,omitempty"`
	Shipping           json.Number        `json:"shipping"`

	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

// InitializeOrderResponse carries the payment redirect.
type InitializeOrderResponse struct {
	AccessCode string `json:"accessCode"`
	URL        string `json:"url" validate:"required"`
	Slug       string `json:"slug" validate:"required"`
}

// State is a first-level administrative region.
type State struct {
	Name        string `json:"name" validate:"required"`
	CountryCode string `json:"countryCode"`
	IsoCode     string `json:"isoCode" validate:"required"`
}

// City belongs to a State.
type City struct {
	Name        string `json:"name" validate:"required"`
	StateCode   string `json:"stateCode"`
	CountryCode string `json:"countryCode"`
}

// DeliveryAddress is the address projection sent for carrier quotes.
type DeliveryAddress struct {
	Country   string `json:"country"`
	State     string `json:"state"`
	City      string `json:"city"`
	Email     string `json:"email"`
	Line1     string `json:"line1"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Zip       string `json:"zip"`
}

// RateItem is one cart line projected for a carrier quote.
type RateItem struct {
	ProductID   string      `json:"productId"`
	Quantity    int         `json:"quantity"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Value       json.Number `json:"value"`
	Weight      json.Number `json:"weight"`
}

// RatesRequest asks the carrier integration for shipment quotes.
type RatesRequest struct {
	StoreSlug       string          `json:"storeSlug"`
	DeliveryAddress DeliveryAddress `json:"deliveryAddress"`
	Items           []RateItem      `json:"items"`
}

// RateMetadata keeps the recommended flag raw; it arrives as a string or a bool.
type RateMetadata struct {
	Recommended json.RawMessage `json:"recommended,omitempty"`
}

// ShipmentRate is one carrier quote.
type ShipmentRate struct {
	RateID                 string          `json:"rate_id" validate:"required"`
	Parcel                 string          `json:"parcel" validate:"required"`
	Amount                 decimal.Decimal `json:"amount" validate:"gte=0"`
	Currency               string          `json:"currency"`
	DeliveryAddress        string          `json:"delivery_address" validate:"required"`
	CarrierName            string          `json:"carrier_name"`
	CarrierLogo            string          `json:"carrier_logo"`
	CarrierRateDescription string          `json:"carrier_rate_description"`
	DeliveryTime           string          `json:"delivery_time"`
	PickupTime             string          `json:"pickup_time"`
	Metadata               RateMetadata    `json:"metadata"`
}
