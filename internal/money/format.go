// Package money форматирует суммы корзины для витрины.
package money

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Symbol: символ бразильского реала.
const Symbol = "R$"

var printer = message.NewPrinter(language.BrazilianPortuguese)

// FormatValue форматирует сумму в реалах: "R$ 1.234,50".
// После символа ровно один пробел, отрицательные суммы выводятся как "-R$ 1,00".
// Центы округляются половиной от нуля (0,125 -> 0,13), как в Intl.NumberFormat.
func FormatValue(value float64) string {
	value = math.Round(value*100) / 100
	sign := ""
	if value < 0 {
		sign = "-"
		value = math.Abs(value)
	}
	return sign + Symbol + " " + printer.Sprint(number.Decimal(value, number.Scale(2)))
}
