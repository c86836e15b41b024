// Package checkout drives the shipping and order-initialisation wizard for one
// visitor.
package checkout

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
)

// Phase names a step of the wizard.
type Phase string

const (
	PhaseAddressIncomplete  Phase = "address_incomplete"
	PhaseReadyToFetchRates  Phase = "ready_to_fetch_rates"
	PhaseRatesDialogOpen    Phase = "rates_dialog_open"
	PhaseRateSelected       Phase = "rate_selected"
	PhaseOfferingSelectable Phase = "offering_selectable"
	PhaseOfferingSelected   Phase = "offering_selected"
)

// Address is the delivery form as the shopper filled it in.
type Address struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,phone10"`
	Line1     string `json:"line1" validate:"required"`
	Line2     string `json:"line2,omitempty"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state" validate:"required"`
	Zip       string `json:"zip" validate:"required"`
	Country   string `json:"country" validate:"required"`
}

// Normalize trims surrounding whitespace from every field.
func (a Address) Normalize() Address {
	for _, f := range []*string{&a.FirstName, &a.LastName, &a.Email, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.Zip, &a.Country} {
		*f = strings.TrimSpace(*f)
	}
	return a
}

// Rate is a carrier quote with its recommended flag resolved.
type Rate struct {
	backend.ShipmentRate
	Recommended bool `json:"recommended"`
}

// RateSelection binds the chosen quote into the order.
type RateSelection struct {
	RateID            string          `json:"rateId"`
	TerminalAddressID string          `json:"terminalAddressId"`
	TerminalParcelID  string          `json:"terminalParcelId"`
	Amount            decimal.Decimal `json:"amount"`
}

// State is the persisted wizard state of one visitor in one store.
type State struct {
	Address          Address        `json:"address"`
	Rates            []Rate         `json:"rates"`
	DialogOpen       bool           `json:"dialogOpen"`
	Rate             *RateSelection `json:"rate,omitempty"`
	SelectedOffering string         `json:"selectedOffering,omitempty"`
	IdempotencyKey   string         `json:"idempotencyKey,omitempty"`
	// PayloadDigest identifies the order payload IdempotencyKey was issued for.
	PayloadDigest    string         `json:"payloadDigest,omitempty"`
}

// Projection fixes how the form maps onto the carrier's address shape.
type Projection struct {
	Country     string
	PhonePrefix string
}

// DeliveryAddress projects the form for rate quotes. The country is fixed by
// the projection and the phone gains the dialling prefix when present.
func (p Projection) DeliveryAddress(a Address) backend.DeliveryAddress {
	phone := ""
	if a.Phone != "" {
		phone = p.PhonePrefix + a.Phone
	}
	return backend.DeliveryAddress{
		Country:   p.Country,
		State:     a.State,
		City:      a.City,
		Email:     a.Email,
		Line1:     a.Line1,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Phone:     phone,
		Zip:       a.Zip,
	}
}

// complete reports whether every projected field is set.
func complete(d backend.DeliveryAddress) bool {
	for _, v := range []string{d.Country, d.State, d.City, d.Email, d.Line1, d.FirstName, d.LastName, d.Phone, d.Zip} {
		if v == "" {
			return false
		}
	}
	return true
}

// CanGetShipmentRates is true only for terminal delivery with a non-empty
// hydrated cart and a complete address projection.
func (p Projection) CanGetShipmentRates(info backend.DeliveryInfo, lines []cart.Line, a Address) bool {
	if _, ok := info.(backend.TerminalDelivery); !ok {
		return false
	}
	if len(lines) == 0 {
		return false
	}
	return complete(p.DeliveryAddress(a))
}

// Phase reports the wizard step for state under info.
func (p Projection) Phase(info backend.DeliveryInfo, lines []cart.Line, s State) Phase {
	switch d := info.(type) {
	case backend.TerminalDelivery:
		switch {
		case s.Rate != nil && !s.DialogOpen:
			return PhaseRateSelected
		case s.DialogOpen:
			return PhaseRatesDialogOpen
		case p.CanGetShipmentRates(d, lines, s.Address):
			return PhaseReadyToFetchRates
		default:
			return PhaseAddressIncomplete
		}
	case backend.CustomDelivery:
		switch {
		case s.SelectedOffering != "":
			return PhaseOfferingSelected
		case complete(p.DeliveryAddress(s.Address)):
			return PhaseOfferingSelectable
		default:
			return PhaseAddressIncomplete
		}
	default:
		return PhaseAddressIncomplete
	}
}

// DeliveryPrice is the selected rate's amount, else the price of the selected
// custom offering, else zero.
func DeliveryPrice(info backend.DeliveryInfo, s State) decimal.Decimal {
	if s.Rate != nil {
		return s.Rate.Amount
	}
	if custom, ok := info.(backend.CustomDelivery); ok {
		if price, found := custom.OfferingPrice(s.SelectedOffering); found {
			return price
		}
	}
	return decimal.Zero
}

// NormalizeRates resolves each quote's recommended flag.
func NormalizeRates(rates []backend.ShipmentRate) []Rate {
	out := make([]Rate, 0, len(rates))
	for _, r := range rates {
		out = append(out, Rate{ShipmentRate: r, Recommended: recommended(r.Metadata.Recommended)})
	}
	return out
}

// recommended is true for the string "true" or the JSON literal true.
func recommended(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("true")) {
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == "true"
}

func findRate(rates []Rate, id string) (Rate, bool) {
	for _, r := range rates {
		if r.RateID == id {
			return r, true
		}
	}
	return Rate{}, false
}
