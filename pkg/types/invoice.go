package types

import "github.com/shopspring/decimal"

// LineItem is one invoice line. JSON field names follow the public wire
// contract and are shared by the API layer and the canonical hash encoding.
type LineItem struct {
	Product   string          `json:"producto" validate:"required"`
	Quantity  int64           `json:"cantidad" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"precio_unitario"`
	TaxRate   decimal.Decimal `json:"iva"`
}

// Amount returns quantity times unit price with tax applied.
func (li LineItem) Amount() decimal.Decimal {
	base := li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
	tax := base.Mul(li.TaxRate).Div(decimal.NewFromInt(100))
	return base.Add(tax)
}
