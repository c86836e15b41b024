package backend

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Delivery types reported by the delivery info endpoint.
const (
	DeliveryTypeTerminal = "terminal"
	DeliveryTypeCustom   = "custom"
)

// DeliveryInfo is the store's delivery configuration. It is either
// TerminalDelivery or CustomDelivery.
type DeliveryInfo interface {
	DeliveryType() string
	isDeliveryInfo()
}

// TerminalDelivery means shipment rates are quoted live by the carrier
// integration. The pickup contact is the merchant's.
type TerminalDelivery struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	Zip       string `json:"zip"`

	// secretKey never leaves the process.
	secretKey string
}

// DeliveryType implements DeliveryInfo.
func (TerminalDelivery) DeliveryType() string { return DeliveryTypeTerminal }
func (TerminalDelivery) isDeliveryInfo()      {}

// HasSecretKey reports whether the store has carrier credentials configured.
func (t TerminalDelivery) HasSecretKey() bool { return t.secretKey != "" }

// Offering is a flat-rate delivery option.
type Offering struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

// CustomDelivery means the store publishes a fixed list of offerings.
type CustomDelivery struct {
	Offerings []Offering `json:"offerings"`
}

// DeliveryType implements DeliveryInfo.
func (CustomDelivery) DeliveryType() string { return DeliveryTypeCustom }
func (CustomDelivery) isDeliveryInfo()      {}

// OfferingPrice returns the price of the named offering, or false when the
// store has no offering by that name.
func (c CustomDelivery) OfferingPrice(name string) (decimal.Decimal, bool) {
	for _, o := range c.Offerings {
		if o.Name == name {
			return o.Price, true
		}
	}
	return decimal.Zero, false
}

type terminalDeliveryPayload struct {
	DeliveryType      string `json:"deliveryType"`
	TerminalSecretKey string `json:"terminalSecretKey" validate:"required"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Line1             string `json:"line1"`
	Line2             string `json:"line2"`
	City              string `json:"city"`
	State             string `json:"state"`
	Country           string `json:"country"`
	Zip               string `json:"zip"`
}

func (p terminalDeliveryPayload) toDeliveryInfo() TerminalDelivery {
	return TerminalDelivery{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
		Line1:     p.Line1,
		Line2:     p.Line2,
		City:      p.City,
		State:     p.State,
		Country:   p.Country,
		Zip:       p.Zip,
		secretKey: p.TerminalSecretKey,
	}
}

type customDeliveryPayload struct {
	DeliveryType string     `json:"deliveryType"`
	Offerings    []Offering `json:"offerings" validate:"dive"`
}

// decodeDeliveryInfo picks the variant from the deliveryType tag.
func (c *Client) decodeDeliveryInfo(data []byte) (DeliveryInfo, error) {
	var tag struct {
		DeliveryType string `json:"deliveryType"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}
	switch tag.DeliveryType {
	case DeliveryTypeTerminal:
		var payload terminalDeliveryPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if err := c.validate.Struct(payload); err != nil {
			return nil, err
		}
		return payload.toDeliveryInfo(), nil
	case DeliveryTypeCustom:
		var payload customDeliveryPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if err := c.validate.Struct(payload); err != nil {
			return nil, err
		}
		return CustomDelivery{Offerings: payload.Offerings}, nil
	default:
		return nil, fmt.Errorf("unknown delivery type %q", tag.DeliveryType)
	}
}

// MarshalDeliveryInfo renders info with its deliveryType tag for clients.
func MarshalDeliveryInfo(info DeliveryInfo) ([]byte, error) {
	switch v := info.(type) {
	case TerminalDelivery:
		type alias TerminalDelivery
		return json.Marshal(struct {
			DeliveryType string `json:"deliveryType"`
			alias
		}{DeliveryTypeTerminal, alias(v)})
	case CustomDelivery:
		offerings := v.Offerings
		if offerings == nil {
			offerings = []Offering{}
		}
		return json.Marshal(struct {
			DeliveryType string     `json:"deliveryType"`
			Offerings    []Offering `json:"offerings"`
		}{DeliveryTypeCustom, offerings})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("backend: unsupported delivery info %T", info)
	}
}
