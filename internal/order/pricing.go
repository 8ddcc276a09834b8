package order

import (
	"fmt"
	"math"
)

// Price is the result of applying a discount to an order total. All amounts
// are minor units.
type Price struct {
	Total       int64 `json:"total"`
	DiscountBps int64 `json:"discount_bps"`
	Discount    int64 `json:"discount"`
	Payable     int64 `json:"payable"`
}

// ComputePayable applies discountBps to total with half-up rounding and never
// charges less than floor.
func ComputePayable(total, discountBps, floor int64) Price {
	if discountBps < 0 {
		discountBps = 0
	}
	if discountBps > 10_000 {
		discountBps = 10_000
	}
	discount := (total*discountBps + 5_000) / 10_000
	payable := total - discount
	if payable < floor {
		payable = floor
		discount = total - payable
		if discount < 0 {
			discount = 0
		}
	}
	return Price{Total: total, DiscountBps: discountBps, Discount: discount, Payable: payable}
}

// PercentToBps converts a percentage such as 9.5 into basis points (950).
func PercentToBps(percent float64) int64 {
	return int64(math.Round(percent * 100))
}

// FormatMinor renders paise as a rupee amount with two decimals.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
