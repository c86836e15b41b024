package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	descriptionLimit = 100
	callbackPath     = "/order"
	defaultStateTTL  = 24 * time.Hour
)

var (
	// ErrCartEmpty indicates the hydrated cart has no lines.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrNotTerminalDelivery indicates a carrier operation on a store without terminal delivery.
	ErrNotTerminalDelivery = errors.New("checkout: store does not use terminal delivery")
	// ErrNotCustomDelivery indicates an offering operation on a store without custom delivery.
	ErrNotCustomDelivery = errors.New("checkout: store does not use custom delivery")
	// ErrAddressIncomplete indicates rates were requested before the address was complete.
	ErrAddressIncomplete = errors.New("checkout: delivery address is incomplete")
	// ErrAddressInvalid indicates submission with an address that fails validation.
	ErrAddressInvalid = errors.New("checkout: delivery address is invalid")
	// ErrRateNotFound indicates the selected rate is not among the fetched quotes.
	ErrRateNotFound = errors.New("checkout: rate not found")
	// ErrRateNotSelected indicates submission without a selected rate.
	ErrRateNotSelected = errors.New("checkout: no shipment rate selected")
	// ErrOfferingNotFound indicates the offering is not published by the store.
	ErrOfferingNotFound = errors.New("checkout: offering not found")
	// ErrOfferingNotSelected indicates submission without a selected offering.
	ErrOfferingNotSelected = errors.New("checkout: no delivery offering selected")
	// ErrStateNotFound indicates a city lookup for an unknown state name.
	ErrStateNotFound = errors.New("checkout: state not found")
)

// AddressError carries the field messages of an invalid address.
type AddressError struct {
	Fields FieldErrors
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: %d field(s)", ErrAddressInvalid, len(e.Fields))
}

func (e *AddressError) Unwrap() error { return ErrAddressInvalid }

// Backend is the slice of the commerce backend checkout talks to.
type Backend interface {
	DeliveryInfo(ctx context.Context, storeSlug string) (backend.DeliveryInfo, error)
	States(ctx context.Context) ([]backend.State, error)
	Cities(ctx context.Context, stateCode string) ([]backend.City, error)
	Rates(ctx context.Context, req backend.RatesRequest) ([]backend.ShipmentRate, error)
	InitializeOrder(ctx context.Context, req backend.InitializeOrderRequest) (backend.InitializeOrderResponse, error)
}

// Hydrator prices a visitor's cart.
type Hydrator interface {
	Hydrate(ctx context.Context, visitorID string, items []cart.Item) cart.Summary
	Forget(visitorID string)
}

// Recorder receives checkout outcomes for metrics.
type Recorder interface {
	CountRateQuote(err error)
	CountOrderInitialized(delivery string, err error)
}

// ServiceDeps wires the checkout service.
type ServiceDeps struct {
	Backend  Backend
	Carts    *cart.Repository
	Hydrator Hydrator
	Store    kv.Store
	Recorder Recorder

	// PublicOrigin is the storefront origin the payment page returns to.
	PublicOrigin string
	Projection   Projection
	StateTTL     time.Duration
	NewKey       func() string
}

// Service runs the checkout wizard. State is kept per store and visitor.
type Service struct {
	backend    Backend
	carts      *cart.Repository
	hydrator   Hydrator
	store      kv.Store
	recorder   Recorder
	origin     string
	projection Projection
	ttl        time.Duration
	newKey     func() string
	validate   *validator.Validate
}

// NewService constructs a Service validating required dependencies.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Backend == nil:
		return nil, errors.New("checkout service: backend is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Hydrator == nil:
		return nil, errors.New("checkout service: hydrator is required")
	case deps.Store == nil:
		return nil, errors.New("checkout service: state store is required")
	case strings.TrimSpace(deps.PublicOrigin) == "":
		return nil, errors.New("checkout service: public origin is required")
	}
	ttl := deps.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	newKey := deps.NewKey
	if newKey == nil {
		newKey = func() string { return ulid.Make().String() }
	}
	return &Service{
		backend:    deps.Backend,
		carts:      deps.Carts,
		hydrator:   deps.Hydrator,
		store:      deps.Store,
		recorder:   deps.Recorder,
		origin:     strings.TrimRight(strings.TrimSpace(deps.PublicOrigin), "/"),
		projection: deps.Projection,
		ttl:        ttl,
		newKey:     newKey,
		validate:   newValidator(),
	}, nil
}

// View is everything the checkout page shows.
type View struct {
	DeliveryType        string                  `json:"deliveryType"`
	Delivery            json.RawMessage         `json:"delivery"`
	Phase               Phase                   `json:"phase"`
	State               State                   `json:"state"`
	Cart                cart.Summary            `json:"cart"`
	DeliveryAddress     backend.DeliveryAddress `json:"deliveryAddress"`
	DeliveryPrice       decimal.Decimal         `json:"deliveryPrice"`
	Total               decimal.Decimal         `json:"total"`
	CanGetShipmentRates bool                    `json:"canGetShipmentRates"`
	CanSubmit           bool                    `json:"canSubmit"`
}

// Result is a successful order initialisation.
type Result struct {
	RedirectURL string `json:"redirectUrl"`
	Slug        string `json:"slug"`
}

// StateKey returns the storage key for a visitor's checkout in a store.
func StateKey(storeSlug, visitorID string) string {
	return "checkout:v1:" + storeSlug + ":" + visitorID
}

// Load returns the visitor's checkout state, a fresh one when none is stored.
func (s *Service) Load(ctx context.Context, storeSlug, visitorID string) (State, error) {
	var st State
	err := kv.GetJSON(ctx, s.store, StateKey(storeSlug, visitorID), &st)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return State{Address: Address{Country: s.projection.Country}}, nil
	case err != nil:
		return State{}, fmt.Errorf("checkout: load state: %w", err)
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, storeSlug, visitorID string, st State) error {
	if err := kv.SetJSON(ctx, s.store, StateKey(storeSlug, visitorID), st, s.ttl); err != nil {
		return fmt.Errorf("checkout: save state: %w", err)
	}
	return nil
}

// View assembles the checkout page.
func (s *Service) View(ctx context.Context, storeSlug, visitorID string) (View, error) {
	info, err := s.backend.DeliveryInfo(ctx, storeSlug)
	if err != nil {
		return View{}, fmt.Errorf("checkout: delivery info: %w", err)
	}
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return View{}, err
	}
	summary, err := s.summary(ctx, visitorID)
	if err != nil {
		return View{}, err
	}
	delivery, err := backend.MarshalDeliveryInfo(info)
	if err != nil {
		return View{}, fmt.Errorf("checkout: encode delivery info: %w", err)
	}

	price := DeliveryPrice(info, st)
	return View{
		DeliveryType:        info.DeliveryType(),
		Delivery:            delivery,
		Phase:               s.projection.Phase(info, summary.Lines, st),
		State:               st,
		Cart:                summary,
		DeliveryAddress:     s.projection.DeliveryAddress(st.Address),
		DeliveryPrice:       price,
		Total:               summary.Subtotal.Add(price),
		CanGetShipmentRates: s.projection.CanGetShipmentRates(info, summary.Lines, st.Address),
		CanSubmit:           s.gate(info, summary, st) == nil,
	}, nil
}

// UpdateAddress stores the form as entered and reports field problems. A
// previously selected rate is kept.
func (s *Service) UpdateAddress(ctx context.Context, storeSlug, visitorID string, addr Address) (State, FieldErrors, error) {
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return State{}, nil, err
	}
	st.Address = addr.Normalize()
	if err := s.save(ctx, storeSlug, visitorID, st); err != nil {
		return State{}, nil, err
	}
	return st, ValidateAddress(s.validate, st.Address), nil
}

// States lists the regions deliveries can go to.
func (s *Service) States(ctx context.Context) ([]backend.State, error) {
	states, err := s.backend.States(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout: states: %w", err)
	}
	return states, nil
}

// Cities lists the cities of the state with the given display name.
func (s *Service) Cities(ctx context.Context, stateName string) ([]backend.City, error) {
	states, err := s.States(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		if st.Name == stateName {
			cities, err := s.backend.Cities(ctx, st.IsoCode)
			if err != nil {
				return nil, fmt.Errorf("checkout: cities of %q: %w", stateName, err)
			}
			return cities, nil
		}
	}
	return nil, ErrStateNotFound
}

// FetchRates requests carrier quotes for the cart and opens the selection
// dialog. On failure the stored state is left as it was.
func (s *Service) FetchRates(ctx context.Context, storeSlug, visitorID string) (State, error) {
	info, err := s.backend.DeliveryInfo(ctx, storeSlug)
	if err != nil {
		return State{}, fmt.Errorf("checkout: delivery info: %w", err)
	}
	if _, ok := info.(backend.TerminalDelivery); !ok {
		return State{}, ErrNotTerminalDelivery
	}
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return State{}, err
	}
	summary, err := s.summary(ctx, visitorID)
	if err != nil {
		return State{}, err
	}
	if len(summary.Lines) == 0 {
		return State{}, ErrCartEmpty
	}
	if !s.projection.CanGetShipmentRates(info, summary.Lines, st.Address) {
		return State{}, ErrAddressIncomplete
	}

	req := backend.RatesRequest{
		StoreSlug:       storeSlug,
		DeliveryAddress: s.projection.DeliveryAddress(st.Address),
		Items:           rateItems(ctx, summary.Lines),
	}
	quotes, err := s.backend.Rates(ctx, req)
	s.countRateQuote(err)
	if err != nil {
		return State{}, fmt.Errorf("checkout: rates: %w", err)
	}

	st.Rates = NormalizeRates(quotes)
	st.DialogOpen = true
	if err := s.save(ctx, storeSlug, visitorID, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// SelectRate binds a fetched quote into the order and closes the dialog.
func (s *Service) SelectRate(ctx context.Context, storeSlug, visitorID, rateID string) (State, error) {
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return State{}, err
	}
	rate, ok := findRate(st.Rates, rateID)
	if !ok {
		return State{}, ErrRateNotFound
	}
	st.Rate = &RateSelection{
		RateID:            rate.RateID,
		TerminalAddressID: rate.DeliveryAddress,
		TerminalParcelID:  rate.Parcel,
		Amount:            rate.Amount,
	}
	st.DialogOpen = false
	if err := s.save(ctx, storeSlug, visitorID, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// SelectOffering records the chosen flat-rate offering.
func (s *Service) SelectOffering(ctx context.Context, storeSlug, visitorID, name string) (State, error) {
	info, err := s.backend.DeliveryInfo(ctx, storeSlug)
	if err != nil {
		return State{}, fmt.Errorf("checkout: delivery info: %w", err)
	}
	custom, ok := info.(backend.CustomDelivery)
	if !ok {
		return State{}, ErrNotCustomDelivery
	}
	if _, found := custom.OfferingPrice(name); !found {
		return State{}, ErrOfferingNotFound
	}
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return State{}, err
	}
	st.SelectedOffering = name
	if err := s.save(ctx, storeSlug, visitorID, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Submit initialises the order. On success the cart and the checkout state are
// cleared and the payment redirect is returned; on failure nothing changes.
func (s *Service) Submit(ctx context.Context, storeSlug, visitorID string) (Result, error) {
	info, err := s.backend.DeliveryInfo(ctx, storeSlug)
	if err != nil {
		return Result{}, fmt.Errorf("checkout: delivery info: %w", err)
	}
	st, err := s.Load(ctx, storeSlug, visitorID)
	if err != nil {
		return Result{}, err
	}
	summary, err := s.summary(ctx, visitorID)
	if err != nil {
		return Result{}, err
	}
	if err := s.gate(info, summary, st); err != nil {
		return Result{}, err
	}

	req := s.orderRequest(storeSlug, info, summary, st)
	digest, err := payloadDigest(req)
	if err != nil {
		return Result{}, err
	}
	if st.IdempotencyKey == "" || st.PayloadDigest != digest {
		st.IdempotencyKey = s.newKey()
		st.PayloadDigest = digest
		if err := s.save(ctx, storeSlug, visitorID, st); err != nil {
			return Result{}, err
		}
	}
	req.IdempotencyKey = st.IdempotencyKey

	resp, err := s.backend.InitializeOrder(ctx, req)
	s.countOrder(info.DeliveryType(), err)
	if err != nil {
		return Result{}, fmt.Errorf("checkout: initialize order: %w", err)
	}

	if _, err := s.carts.Update(ctx, visitorID, func(c *cart.Store) { c.Clear() }); err != nil {
		requestctx.Logger(ctx).Error("clearing cart after order failed", zap.String("order_slug", resp.Slug), zap.Error(err))
	}
	s.hydrator.Forget(visitorID)
	if err := s.store.Delete(ctx, StateKey(storeSlug, visitorID)); err != nil {
		requestctx.Logger(ctx).Warn("clearing checkout state failed", zap.Error(err))
	}
	requestctx.Logger(ctx).Info("order initialized",
		zap.String("order_slug", resp.Slug),
		zap.String("delivery_type", info.DeliveryType()),
	)
	return Result{RedirectURL: resp.URL, Slug: resp.Slug}, nil
}

// gate checks the submission preconditions.
func (s *Service) gate(info backend.DeliveryInfo, summary cart.Summary, st State) error {
	if len(summary.Lines) == 0 {
		return ErrCartEmpty
	}
	switch d := info.(type) {
	case backend.TerminalDelivery:
		if st.Rate == nil {
			return ErrRateNotSelected
		}
	case backend.CustomDelivery:
		if _, found := d.OfferingPrice(st.SelectedOffering); !found {
			return ErrOfferingNotSelected
		}
	default:
		return fmt.Errorf("checkout: unsupported delivery type %T", info)
	}
	if fields := ValidateAddress(s.validate, st.Address); len(fields) > 0 {
		return &AddressError{Fields: fields}
	}
	return nil
}

func (s *Service) orderRequest(storeSlug string, info backend.DeliveryInfo, summary cart.Summary, st State) backend.InitializeOrderRequest {
	items := make([]backend.OrderLine, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		items = append(items, backend.OrderLine{
			ProductID: line.Item.ProductID,
			Quantity:  line.Item.Quantity,
			Metadatas: line.Item.Metadatas,
			Variants:  line.Item.Variants,
		})
	}
	a := st.Address
	req := backend.InitializeOrderRequest{
		CallbackURL:    s.origin + callbackPath,
		StoreSlug:      storeSlug,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		Email:          a.Email,
		Phone:          a.Phone,
		Line1:          a.Line1,
		Line2:          a.Line2,
		City:           a.City,
		State:          a.State,
		Country:        a.Country,
		Zip:            a.Zip,
		Items:          items,
		Shipping:       json.Number(DeliveryPrice(info, st).String()),
	}
	switch info.(type) {
	case backend.TerminalDelivery:
		req.TerminalInfo = &backend.TerminalSelection{
			TerminalAddressID: st.Rate.TerminalAddressID,
			TerminalParcelID:  st.Rate.TerminalParcelID,
			RateID:            st.Rate.RateID,
		}
	case backend.CustomDelivery:
		req.CustomDeliveryInfo = &backend.CustomSelection{SelectedOffering: st.SelectedOffering}
	}
	return req
}

// payloadDigest hashes the order body. A retry reuses its idempotency key only
// while the body is unchanged.
func payloadDigest(req backend.InitializeOrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("checkout: encode order payload: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) summary(ctx context.Context, visitorID string) (cart.Summary, error) {
	c, err := s.carts.Load(ctx, visitorID)
	if err != nil {
		return cart.Summary{}, err
	}
	return s.hydrator.Hydrate(ctx, visitorID, c.Items()), nil
}

func rateItems(ctx context.Context, lines []cart.Line) []backend.RateItem {
	items := make([]backend.RateItem, 0, len(lines))
	for _, line := range lines {
		weight := decimal.Zero
		if line.Product.Terminal != nil {
			weight = line.Product.Terminal.Weight
		} else {
			requestctx.Logger(ctx).Warn("product has no parcel weight", zap.String("product_id", line.Product.ID))
		}
		items = append(items, backend.RateItem{
			ProductID:   line.Item.ProductID,
			Quantity:    line.Item.Quantity,
			Name:        line.Product.Name,
			Description: truncate(line.Product.AdditionalInformation, descriptionLimit),
			Value:       json.Number(line.UnitPrice.String()),
			Weight:      json.Number(weight.String()),
		})
	}
	return items
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func (s *Service) countRateQuote(err error) {
	if s.recorder != nil {
		s.recorder.CountRateQuote(err)
	}
}

func (s *Service) countOrder(delivery string, err error) {
	if s.recorder != nil {
		s.recorder.CountOrderInitialized(delivery, err)
	}
}
