package enums

// OrderSource records whether an order originated from the cart or a buy-now payload.
type OrderSource string

const (
	OrderSourceCart   OrderSource = "cart"
	OrderSourceBuyNow OrderSource = "buy_now"
)

// IsValid reports whether the value is a known OrderSource.
func (o OrderSource) IsValid() bool {
	return o == OrderSourceCart || o == OrderSourceBuyNow
}
