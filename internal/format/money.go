// Package format renders amounts for display.
package format

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders money in one currency for one locale.
type Formatter struct {
	unit    currency.Unit
	scale   int
	printer *message.Printer
}

// New returns a formatter for the ISO 4217 code and BCP 47 locale. An empty
// locale falls back to English.
func New(code, locale string) (*Formatter, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("format: currency %q: %w", code, err)
	}
	tag := language.English
	if strings.TrimSpace(locale) != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("format: locale %q: %w", locale, err)
		}
		tag = parsed
	}
	scale, _ := currency.Standard.Rounding(unit)
	return &Formatter{unit: unit, scale: scale, printer: message.NewPrinter(tag)}, nil
}

// Currency returns the ISO code.
func (f *Formatter) Currency() string {
	return f.unit.String()
}

// Money renders amount as "<ISO> <grouped amount>", e.g. "NGN 2,400.00". The
// amount reaches the printer as a decimal string so no digits are lost.
func (f *Formatter) Money(amount decimal.Decimal) string {
	value := amount.StringFixed(int32(f.scale))
	return f.unit.String() + " " + f.printer.Sprint(number.Decimal(value, number.Scale(f.scale)))
}
