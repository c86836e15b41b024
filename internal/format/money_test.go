package format

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	f, err := New("NGN", "en-NG")
	require.NoError(t, err)

	assert.Equal(t, "NGN", f.Currency())
	assert.Equal(t, "NGN 2,400.00", f.Money(decimal.NewFromInt(2400)))
	assert.Equal(t, "NGN 0.00", f.Money(decimal.Zero))
	assert.Equal(t, "NGN 1,234,567.50", f.Money(decimal.RequireFromString("1234567.5")))
}

func TestMoneyKeepsLargeAmountsExact(t *testing.T) {
	f, err := New("NGN", "en-NG")
	require.NoError(t, err)

	assert.Equal(t, "NGN 12,345,678,901,234,567.89", f.Money(decimal.RequireFromString("12345678901234567.89")))
	assert.Equal(t, "NGN 0.10", f.Money(decimal.RequireFromString("0.1")))
}

func TestMoneyUsesCurrencyScale(t *testing.T) {
	f, err := New("JPY", "")
	require.NoError(t, err)

	assert.Equal(t, "JPY 1,200", f.Money(decimal.RequireFromString("1200.4")))
}

func TestNewRejectsUnknownCurrency(t *testing.T) {
	_, err := New("XYZ1", "en")
	require.Error(t, err)
}
