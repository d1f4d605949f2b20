package service

import (
	"github.com/shopspring/decimal"
)

// percentOf returns round(cents * rate), half away from zero.
func percentOf(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// platformFee is the marketplace share of a settlement subtotal.
func (c *Clients) platformFee(subtotal int64) int64 {
	return percentOf(subtotal, c.Config.PlatformFeeRate)
}

// customerRefundShare is refunded when a customer cancels before shipment.
var customerRefundShare = decimal.NewFromFloat(0.75)

// depositSplit returns the deposit and balance for a booking total. The
// deposit invoice carries a negative discount line of floor(total/2), so
// deposit + balance always equals total.
func depositSplit(total int64) (deposit, balance int64) {
	balance = total / 2
	return total - balance, balance
}
