package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/kv"
)

type fakeBackend struct {
	info      backend.DeliveryInfo
	states    []backend.State
	cities    map[string][]backend.City
	rates     []backend.ShipmentRate
	ratesErr  error
	initErr   error
	rateReqs  []backend.RatesRequest
	orderReqs []backend.InitializeOrderRequest
}

func (f *fakeBackend) DeliveryInfo(context.Context, string) (backend.DeliveryInfo, error) {
	return f.info, nil
}

func (f *fakeBackend) States(context.Context) ([]backend.State, error) { return f.states, nil }

func (f *fakeBackend) Cities(_ context.Context, code string) ([]backend.City, error) {
	return f.cities[code], nil
}

func (f *fakeBackend) Rates(_ context.Context, req backend.RatesRequest) ([]backend.ShipmentRate, error) {
	f.rateReqs = append(f.rateReqs, req)
	if f.ratesErr != nil {
		return nil, f.ratesErr
	}
	return f.rates, nil
}

func (f *fakeBackend) InitializeOrder(_ context.Context, req backend.InitializeOrderRequest) (backend.InitializeOrderResponse, error) {
	f.orderReqs = append(f.orderReqs, req)
	if f.initErr != nil {
		return backend.InitializeOrderResponse{}, f.initErr
	}
	return backend.InitializeOrderResponse{AccessCode: "ac", URL: "https://pay.example.com/ac", Slug: "ord-1"}, nil
}

type staticProducts []backend.RichProduct

func (s staticProducts) ProductsByIDs(context.Context, []string) ([]backend.RichProduct, error) {
	return s, nil
}

type countingRecorder struct {
	quotes, quoteErrs, orders, orderErrs int
}

func (r *countingRecorder) CountRateQuote(err error) {
	r.quotes++
	if err != nil {
		r.quoteErrs++
	}
}

func (r *countingRecorder) CountOrderInitialized(_ string, err error) {
	r.orders++
	if err != nil {
		r.orderErrs++
	}
}

type harness struct {
	svc      *Service
	backend  *fakeBackend
	carts    *cart.Repository
	recorder *countingRecorder
}

const (
	store   = "acme"
	visitor = "v1"
)

func tee() backend.RichProduct {
	return backend.RichProduct{Product: backend.Product{
		ID:                    "p1",
		Name:                  "Tee",
		AdditionalInformation: strings.Repeat("a", 150),
		Price:                 decimal.NewFromInt(1000),
		Variants: []backend.Variant{{Name: "Size", Options: []backend.VariantOption{
			{Name: "M", Price: decimal.NewFromInt(200)},
		}}},
		Terminal: &backend.TerminalSpec{Weight: decimal.RequireFromString("0.5")},
	}}
}

func newHarness(t *testing.T, info backend.DeliveryInfo) *harness {
	t.Helper()
	memory := kv.NewMemoryStore(time.Minute)
	fb := &fakeBackend{info: info}
	carts := cart.NewRepository(memory)
	rec := &countingRecorder{}
	svc, err := NewService(ServiceDeps{
		Backend:      fb,
		Carts:        carts,
		Hydrator:     cart.NewHydrator(staticProducts{tee()}, time.Minute),
		Store:        memory,
		Recorder:     rec,
		PublicOrigin: "https://shop.example.com/",
		Projection:   testProjection,
		NewKey:       func() string { return "key-1" },
	})
	require.NoError(t, err)
	return &harness{svc: svc, backend: fb, carts: carts, recorder: rec}
}

func (h *harness) fillCart(t *testing.T) {
	t.Helper()
	_, err := h.carts.Update(context.Background(), visitor, func(s *cart.Store) {
		s.Add(cart.Item{ProductID: "p1", Quantity: 2, Variants: []backend.Selection{{Name: "Size", Value: "M"}}})
	})
	require.NoError(t, err)
}

func (h *harness) setAddress(t *testing.T) {
	t.Helper()
	_, fields, err := h.svc.UpdateAddress(context.Background(), store, visitor, completeAddress())
	require.NoError(t, err)
	require.Empty(t, fields)
}

func sampleRates() []backend.ShipmentRate {
	return []backend.ShipmentRate{
		{RateID: "r1", Parcel: "parcel-1", DeliveryAddress: "addr-1", Amount: decimal.NewFromInt(2500), Metadata: backend.RateMetadata{Recommended: json.RawMessage(`"true"`)}},
		{RateID: "r2", Parcel: "parcel-1", DeliveryAddress: "addr-1", Amount: decimal.NewFromInt(4000)},
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceDeps{})
	require.Error(t, err)
}

func TestFetchRatesBuildsQuoteRequest(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	h.backend.rates = sampleRates()
	h.fillCart(t)
	h.setAddress(t)

	st, err := h.svc.FetchRates(context.Background(), store, visitor)
	require.NoError(t, err)

	require.Len(t, h.backend.rateReqs, 1)
	req := h.backend.rateReqs[0]
	assert.Equal(t, store, req.StoreSlug)
	assert.Equal(t, "+2348012345678", req.DeliveryAddress.Phone)
	assert.Equal(t, "NG", req.DeliveryAddress.Country)
	require.Len(t, req.Items, 1)
	item := req.Items[0]
	assert.Equal(t, "p1", item.ProductID)
	assert.Equal(t, 2, item.Quantity)
	assert.Len(t, item.Description, 100)
	assert.Equal(t, json.Number("1200"), item.Value)
	assert.Equal(t, json.Number("0.5"), item.Weight)

	assert.True(t, st.DialogOpen)
	require.Len(t, st.Rates, 2)
	assert.True(t, st.Rates[0].Recommended)
	assert.False(t, st.Rates[1].Recommended)
	assert.Equal(t, 1, h.recorder.quotes)
}

func TestFetchRatesFailureKeepsState(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	h.fillCart(t)
	h.setAddress(t)
	h.backend.ratesErr = errors.New("carrier down")

	_, err := h.svc.FetchRates(context.Background(), store, visitor)
	require.Error(t, err)

	st, err := h.svc.Load(context.Background(), store, visitor)
	require.NoError(t, err)
	assert.False(t, st.DialogOpen)
	assert.Empty(t, st.Rates)
	assert.Equal(t, 1, h.recorder.quoteErrs)
}

func TestFetchRatesGating(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	_, err := h.svc.FetchRates(context.Background(), store, visitor)
	require.ErrorIs(t, err, ErrCartEmpty)

	h.fillCart(t)
	_, err = h.svc.FetchRates(context.Background(), store, visitor)
	require.ErrorIs(t, err, ErrAddressIncomplete)

	custom := newHarness(t, backend.CustomDelivery{})
	_, err = custom.svc.FetchRates(context.Background(), store, visitor)
	require.ErrorIs(t, err, ErrNotTerminalDelivery)
	assert.Empty(t, h.backend.rateReqs)
}

func TestSelectRateAndStaleAddress(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	h.backend.rates = sampleRates()
	h.fillCart(t)
	h.setAddress(t)
	ctx := context.Background()

	_, err := h.svc.FetchRates(ctx, store, visitor)
	require.NoError(t, err)

	_, err = h.svc.SelectRate(ctx, store, visitor, "missing")
	require.ErrorIs(t, err, ErrRateNotFound)

	st, err := h.svc.SelectRate(ctx, store, visitor, "r2")
	require.NoError(t, err)
	require.NotNil(t, st.Rate)
	assert.Equal(t, RateSelection{RateID: "r2", TerminalAddressID: "addr-1", TerminalParcelID: "parcel-1", Amount: decimal.NewFromInt(4000)}, *st.Rate)
	assert.False(t, st.DialogOpen)

	addr := completeAddress()
	addr.City = "Lekki"
	st, _, err = h.svc.UpdateAddress(ctx, store, visitor, addr)
	require.NoError(t, err)
	require.NotNil(t, st.Rate)
	assert.Equal(t, "r2", st.Rate.RateID)
}

func TestSelectOfferingUpdatesDeliveryPrice(t *testing.T) {
	h := newHarness(t, backend.CustomDelivery{Offerings: []backend.Offering{
		{Name: "Standard", Price: decimal.NewFromInt(1500)},
		{Name: "Express", Price: decimal.NewFromInt(3000)},
	}})
	h.fillCart(t)
	ctx := context.Background()

	_, err := h.svc.SelectOffering(ctx, store, visitor, "Standard")
	require.NoError(t, err)
	view, err := h.svc.View(ctx, store, visitor)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1500).Equal(view.DeliveryPrice))

	_, err = h.svc.SelectOffering(ctx, store, visitor, "Express")
	require.NoError(t, err)
	view, err = h.svc.View(ctx, store, visitor)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3000).Equal(view.DeliveryPrice))
	assert.True(t, decimal.NewFromInt(5400).Equal(view.Total), view.Total.String())
	assert.Equal(t, PhaseOfferingSelected, view.Phase)

	_, err = h.svc.SelectOffering(ctx, store, visitor, "Teleport")
	require.ErrorIs(t, err, ErrOfferingNotFound)
}

func TestSubmitTerminalOrder(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	h.backend.rates = sampleRates()
	h.fillCart(t)
	h.setAddress(t)
	ctx := context.Background()
	_, err := h.svc.FetchRates(ctx, store, visitor)
	require.NoError(t, err)
	_, err = h.svc.SelectRate(ctx, store, visitor, "r1")
	require.NoError(t, err)

	res, err := h.svc.Submit(ctx, store, visitor)
	require.NoError(t, err)
	assert.Equal(t, Result{RedirectURL: "https://pay.example.com/ac", Slug: "ord-1"}, res)

	require.Len(t, h.backend.orderReqs, 1)
	req := h.backend.orderReqs[0]
	assert.Equal(t, "https://shop.example.com/order", req.CallbackURL)
	assert.Equal(t, "8012345678", req.Phone)
	assert.Equal(t, json.Number("2500"), req.Shipping)
	assert.Equal(t, "key-1", req.IdempotencyKey)
	require.NotNil(t, req.TerminalInfo)
	assert.Equal(t, backend.TerminalSelection{TerminalAddressID: "addr-1", TerminalParcelID: "parcel-1", RateID: "r1"}, *req.TerminalInfo)
	assert.Nil(t, req.CustomDeliveryInfo)
	require.Len(t, req.Items, 1)
	assert.Equal(t, []backend.Selection{{Name: "Size", Value: "M"}}, req.Items[0].Variants)

	c, err := h.carts.Load(ctx, visitor)
	require.NoError(t, err)
	assert.Zero(t, c.Len())

	st, err := h.svc.Load(ctx, store, visitor)
	require.NoError(t, err)
	assert.Nil(t, st.Rate)
}

func TestSubmitCustomOrder(t *testing.T) {
	h := newHarness(t, backend.CustomDelivery{Offerings: []backend.Offering{{Name: "Standard", Price: decimal.NewFromInt(1500)}}})
	h.fillCart(t)
	h.setAddress(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, store, visitor)
	require.ErrorIs(t, err, ErrOfferingNotSelected)

	_, err = h.svc.SelectOffering(ctx, store, visitor, "Standard")
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, store, visitor)
	require.NoError(t, err)

	req := h.backend.orderReqs[0]
	assert.Equal(t, json.Number("1500"), req.Shipping)
	assert.Nil(t, req.TerminalInfo)
	assert.Equal(t, &backend.CustomSelection{SelectedOffering: "Standard"}, req.CustomDeliveryInfo)
	assert.Equal(t, 1, h.recorder.orders)
}

func TestSubmitGating(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, backend.TerminalDelivery{})
	_, err := h.svc.Submit(ctx, store, visitor)
	require.ErrorIs(t, err, ErrCartEmpty)

	h.fillCart(t)
	_, err = h.svc.Submit(ctx, store, visitor)
	require.ErrorIs(t, err, ErrRateNotSelected)

	h.backend.rates = sampleRates()
	addr := completeAddress()
	addr.Email = "nope"
	addr.Phone = "8012345678"
	_, fields, err := h.svc.UpdateAddress(ctx, store, visitor, addr)
	require.NoError(t, err)
	assert.Contains(t, fields, "email")
	_, err = h.svc.FetchRates(ctx, store, visitor)
	require.NoError(t, err)
	_, err = h.svc.SelectRate(ctx, store, visitor, "r1")
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, store, visitor)
	require.ErrorIs(t, err, ErrAddressInvalid)
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	assert.Contains(t, addrErr.Fields, "email")
	assert.Empty(t, h.backend.orderReqs)
}

func TestSubmitFailureLeavesCart(t *testing.T) {
	h := newHarness(t, backend.CustomDelivery{Offerings: []backend.Offering{{Name: "Standard", Price: decimal.NewFromInt(1500)}}})
	h.fillCart(t)
	h.setAddress(t)
	ctx := context.Background()
	_, err := h.svc.SelectOffering(ctx, store, visitor, "Standard")
	require.NoError(t, err)
	h.backend.initErr = errors.New("payment provider down")

	_, err = h.svc.Submit(ctx, store, visitor)
	require.Error(t, err)

	c, err := h.carts.Load(ctx, visitor)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	st, err := h.svc.Load(ctx, store, visitor)
	require.NoError(t, err)
	assert.Equal(t, "Standard", st.SelectedOffering)
	assert.Equal(t, "key-1", st.IdempotencyKey)
	assert.Equal(t, 1, h.recorder.orderErrs)
}

func TestSubmitRetryKeepsKeyOnlyForSamePayload(t *testing.T) {
	h := newHarness(t, backend.CustomDelivery{Offerings: []backend.Offering{
		{Name: "Standard", Price: decimal.NewFromInt(1500)},
		{Name: "Express", Price: decimal.NewFromInt(3000)},
	}})
	issued := 0
	h.svc.newKey = func() string {
		issued++
		return fmt.Sprintf("key-%d", issued)
	}
	h.fillCart(t)
	h.setAddress(t)
	ctx := context.Background()
	_, err := h.svc.SelectOffering(ctx, store, visitor, "Standard")
	require.NoError(t, err)
	h.backend.initErr = errors.New("payment provider down")

	_, err = h.svc.Submit(ctx, store, visitor)
	require.Error(t, err)
	_, err = h.svc.Submit(ctx, store, visitor)
	require.Error(t, err)
	require.Len(t, h.backend.orderReqs, 2)
	assert.Equal(t, "key-1", h.backend.orderReqs[0].IdempotencyKey)
	assert.Equal(t, "key-1", h.backend.orderReqs[1].IdempotencyKey)

	_, err = h.carts.Update(ctx, visitor, func(c *cart.Store) { c.Increment(0) })
	require.NoError(t, err)
	_, err = h.svc.SelectOffering(ctx, store, visitor, "Express")
	require.NoError(t, err)
	h.backend.initErr = nil

	_, err = h.svc.Submit(ctx, store, visitor)
	require.NoError(t, err)
	require.Len(t, h.backend.orderReqs, 3)
	last := h.backend.orderReqs[2]
	assert.Equal(t, "key-2", last.IdempotencyKey)
	assert.Equal(t, 3, last.Items[0].Quantity)
	assert.Equal(t, json.Number("3000"), last.Shipping)
}

func TestCitiesResolveStateName(t *testing.T) {
	h := newHarness(t, backend.TerminalDelivery{})
	h.backend.states = []backend.State{{Name: "Lagos", IsoCode: "LA"}}
	h.backend.cities = map[string][]backend.City{"LA": {{Name: "Ikeja", StateCode: "LA"}}}

	cities, err := h.svc.Cities(context.Background(), "Lagos")
	require.NoError(t, err)
	assert.Equal(t, []backend.City{{Name: "Ikeja", StateCode: "LA"}}, cities)

	_, err = h.svc.Cities(context.Background(), "Atlantis")
	require.ErrorIs(t, err, ErrStateNotFound)
}
