package finance

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a monetary value with thousands separators for
// human-facing output, e.g. "1,234,567.89 USD".
func FormatAmount(value decimal.Decimal, currency string) string {
	v, _ := value.Round(2).Float64()
	formatted := amountPrinter.Sprint(number.Decimal(v,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	if currency == "" {
		return formatted
	}
	return formatted + " " + currency
}
