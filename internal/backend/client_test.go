package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return client
}

const productJSON = `{
	"_id": "A",
	"storeId": "s1",
	"images": ["img1"],
	"name": "Shirt",
	"additionalInformation": "<p>Cotton</p>",
	"price": 1000,
	"stock": 4,
	"unitType": "u",
	"isUnspecified": false,
	"categoryId": "c1",
	"variants": [{"name": "Size", "options": [{"name": "M", "price": 200, "stock": 2, "isUnspecified": false}]}],
	"properties": [{"propertyId": "color", "value": ["red", "blue"]}],
	"terminal": {"weight": 1.5, "packageId": "pkg"},
	"imageUrls": ["https://cdn.example.com/img1"],
	"categoryTree": [{"_id": "c1", "name": "Tops", "storeId": "s1"}],
	"comment": null
}`

func TestNewClientRequiresAbsoluteURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	_, err = NewClient("/relative")
	require.Error(t, err)
}

func TestProductsByIDsJoinsIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathProductsByIDs, r.URL.Path)
		require.Equal(t, "A,B", r.URL.Query().Get("ids"))
		_, _ = io.WriteString(w, "["+productJSON+"]")
	})

	products, err := client.ProductsByIDs(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	require.Equal(t, "A", p.ID)
	require.True(t, p.Price.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, []string{"red", "blue"}, p.Properties[0].Value.Values)
	require.Equal(t, "https://cdn.example.com/img1", p.ImageURLs[0])
	require.True(t, p.Terminal.Weight.Equal(decimal.RequireFromString("1.5")))

	delta, ok := p.VariantOptionPrice("Size", "M")
	require.True(t, ok)
	require.True(t, delta.Equal(decimal.NewFromInt(200)))
	_, ok = p.VariantOptionPrice("Size", "XL")
	require.False(t, ok)
}

func TestProductsByIDsSkipsRequestWhenEmpty(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	products, err := client.ProductsByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, products)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestValidationErrorOnContractMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id": "", "name": "Color", "type": "string"}]`)
	})

	_, err := client.Filters(context.Background(), "acme")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "filters", vErr.Op)
}

func TestValidationErrorOnWrongShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not": "a list"}`)
	})

	_, err := client.Categories(context.Background(), "acme")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestErrorFromNon2xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"not_found","message":"collection missing"}`)
	})

	_, err := client.CollectionBySlug(context.Background(), "acme", "summer")
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	require.Equal(t, http.StatusNotFound, bErr.Status)
	require.Equal(t, "collection missing", bErr.Message)
	require.True(t, IsNotFound(err))
}

func TestQueryDropsEmptyParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "acme", r.URL.Query().Get("storeSlug"))
		_, hasParent := r.URL.Query()["parentId"]
		require.False(t, hasParent)
		_, _ = io.WriteString(w, `[]`)
	})

	cats, err := client.SubCategories(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Empty(t, cats)
}

func TestProductsByCollectionSendsFacetBody(t *testing.T) {
	var bodies []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "summer", r.URL.Query().Get("collectionSlug"))
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.ProductsByCollection(context.Background(), "acme", "summer", map[string][]string{"color": {"red"}})
	require.NoError(t, err)
	_, err = client.ProductsByCollection(context.Background(), "acme", "summer", nil)
	require.NoError(t, err)

	require.JSONEq(t, `{"color":["red"]}`, bodies[0])
	require.Empty(t, bodies[1])
}

func TestProductsByCategoryEncodesProperties(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.JSONEq(t, `[{"key":"color","value":["red"]}]`, r.URL.Query().Get("properties"))
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.ProductsByCategory(context.Background(), "acme", "c1", []PropertyFilter{{Key: "color", Value: []string{"red"}}})
	require.NoError(t, err)
}

func TestOrderLookup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("reference") == "ref-1":
			require.Empty(t, q.Get("slug"), "reference wins over slug")
			_, _ = io.WriteString(w, `{"_id":"o1","slug":"ord-1","items":[],"firstName":"Ada","lastName":"L","line1":"1 Road","state":"Lagos","city":"Ikeja","zip":"100001","country":"NG","rateId":"r","phone":"+2341","email":"a@example.com","terminalAddressId":"ta","terminalParcelId":"tp","storeId":"s1","amount":2400,"shipping":1500,"status":"success"}`)
		default:
			_, _ = io.WriteString(w, `null`)
		}
	})

	order, err := client.OrderByReferenceOrSlug(context.Background(), OrderLookup{Reference: "ref-1", Slug: "ignored"})
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, "ord-1", order.Slug)
	require.Equal(t, OrderStatusSuccess, order.Status)

	order, err = client.OrderByReferenceOrSlug(context.Background(), OrderLookup{Slug: "missing"})
	require.NoError(t, err)
	require.Nil(t, order)

	order, err = client.OrderByReferenceOrSlug(context.Background(), OrderLookup{})
	require.NoError(t, err)
	require.Nil(t, order)
}

func TestInitializeOrderSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathOrderInitialize, r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get(idempotencyHeader))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://shop.example.com/order", body["callbackUrl"])
		require.EqualValues(t, 1500, body["shipping"])
		require.NotContains(t, body, "IdempotencyKey")
		require.NotContains(t, body, "terminalInfo")
		_, _ = io.WriteString(w, `{"accessCode":"ac","url":"https://pay.example.com/ac","slug":"ord-1"}`)
	})

	resp, err := client.InitializeOrder(context.Background(), InitializeOrderRequest{
		CallbackURL:        "https://shop.example.com/order",
		StoreSlug:          "acme",
		Shipping:           json.Number("1500"),
		CustomDeliveryInfo: &CustomSelection{SelectedOffering: "Standard"},
		IdempotencyKey:     "key-1",
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.com/ac", resp.URL)
}

func TestDeliveryInfoVariants(t *testing.T) {
	payload := `{"deliveryType":"custom","offerings":[{"name":"Standard","price":1500},{"name":"Express","price":3000}]}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	})

	info, err := client.DeliveryInfo(context.Background(), "acme")
	require.NoError(t, err)
	custom, ok := info.(CustomDelivery)
	require.True(t, ok)
	price, ok := custom.OfferingPrice("Express")
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(3000)))

	payload = `{"deliveryType":"terminal","terminalSecretKey":"sk_live","firstName":"M","lastName":"S","email":"m@example.com","phone":"1","line1":"x","city":"Ikeja","state":"Lagos","country":"NG","zip":"1"}`
	info, err = client.DeliveryInfo(context.Background(), "acme")
	require.NoError(t, err)
	terminal, ok := info.(TerminalDelivery)
	require.True(t, ok)
	require.True(t, terminal.HasSecretKey())

	encoded, err := MarshalDeliveryInfo(terminal)
	require.NoError(t, err)
	require.NotContains(t, string(encoded), "sk_live")
	require.Contains(t, string(encoded), `"deliveryType":"terminal"`)

	payload = `{"deliveryType":"pigeon"}`
	_, err = client.DeliveryInfo(context.Background(), "acme")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestRatesDecodesRecommendedRaw(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req RatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "acme", req.StoreSlug)
		require.Equal(t, "NG", req.DeliveryAddress.Country)
		_, _ = io.WriteString(w, `[{"rate_id":"r1","parcel":"p1","amount":2500,"currency":"NGN","delivery_address":"addr1","carrier_name":"DHL","metadata":{"recommended":"true"}}]`)
	})

	rates, err := client.Rates(context.Background(), RatesRequest{
		StoreSlug:       "acme",
		DeliveryAddress: DeliveryAddress{Country: "NG"},
	})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	require.Equal(t, `"true"`, string(rates[0].Metadata.Recommended))
}

func TestContentsDecodesTaggedBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"name":"banner","object":{"imageId":"i1","link":"https://shop.example.com/sale"}},
			{"name":"categories","object":{"items":[{"imageId":"i2","title":"Tops","categoryId":"c1"}]}},
			{"name":"productCarousel","object":{"title":"New","description":"Fresh","collectionId":"col1"}}
		]`)
	})

	blocks, err := client.Contents(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.IsType(t, BannerContent{}, blocks[0])
	require.Equal(t, []string{"i2"}, blocks[1].ImageIDs())
	require.Nil(t, blocks[2].ImageIDs())

	encoded, err := MarshalContent(blocks[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"banner","object":{"imageId":"i1","link":"https://shop.example.com/sale"}}`, string(encoded))
}

func TestContentsRejectsInvalidBlock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"name":"categories","object":{"items":[]}}]`)
	})

	_, err := client.Contents(context.Background(), "acme")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestImageURLDecodesString(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "img1", r.URL.Query().Get("imageId"))
		_, _ = io.WriteString(w, `"https://cdn.example.com/img1"`)
	})

	u, err := client.ImageURL(context.Background(), "img1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/img1", u)
}

func TestProductsByStore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathProductsByStore, r.URL.Path)
		require.Equal(t, "acme", r.URL.Query().Get("storeSlug"))
		_, _ = io.WriteString(w, `[{"_id":"A","name":"Shirt","price":1000,"images":[],"imageUrls":[],"storeId":"s1","categoryId":"c1","collections":[{"_id":"col1","name":"Summer","slug":"summer","storeId":"s1"}]}]`)
	})

	products, err := client.ProductsByStore(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "summer", products[0].Collections[0].Slug)
	require.True(t, decimal.NewFromInt(1000).Equal(products[0].Price))
}

func TestGenerateUploadURLPosts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pathGenerateUploadURL, r.URL.Path)
		_, _ = io.WriteString(w, `"https://upload.example.com/once"`)
	})

	u, err := client.GenerateUploadURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://upload.example.com/once", u)
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveBackendCall(op string, _ time.Time, err error) {
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	observer := &recordingObserver{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithBreaker(2, time.Minute), WithObserver(observer))

	for i := 0; i < 2; i++ {
		_, err := client.States(context.Background())
		var bErr *Error
		require.ErrorAs(t, err, &bErr)
		require.Equal(t, http.StatusBadGateway, bErr.Status)
	}

	_, err := client.States(context.Background())
	require.True(t, errors.Is(err, ErrUnavailable))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.Equal(t, []string{"states", "states", "states"}, observer.ops)
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, WithBreaker(1, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := client.States(context.Background())
		require.False(t, errors.Is(err, ErrUnavailable))
	}
}

func TestPropertyValueRoundTrip(t *testing.T) {
	for _, raw := range []string{`"red"`, `42`, `["a","b"]`} {
		var v PropertyValue
		require.NoError(t, json.Unmarshal([]byte(raw), &v))
		out, err := json.Marshal(v)
		require.NoError(t, err)
		require.JSONEq(t, raw, string(out))
	}
}
