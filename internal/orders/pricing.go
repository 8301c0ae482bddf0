package orders

import (
	"github.com/shopspring/decimal"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

// LineRequest is one product/quantity pair from the cart.
type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Quote prices the requested lines against current catalog state.
// products must be the purchasable subset fetched for the request; a
// requested id missing from it fails the whole quote. Lines naming the
// same product are merged, then quantities against finite stock are
// validated as a pre-check; the store re-validates under lock when the
// order is created.
type Quote struct {
	Items       []OrderItem
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

func PriceOrder(products []catalog.Product, lines []LineRequest, isDelivery bool, deliveryFee decimal.Decimal) (Quote, error) {
	lines = mergeLines(lines)

	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var missing []string
	for _, l := range lines {
		if _, ok := byID[l.ProductID]; !ok {
			missing = append(missing, l.ProductID)
		}
	}
	if len(missing) > 0 {
		return Quote{}, &ProductsUnavailableError{ProductIDs: missing}
	}

	for _, l := range lines {
		p := byID[l.ProductID]
		if p.Stock != nil && *p.Stock < l.Quantity {
			return Quote{}, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   l.Quantity,
				Available:   *p.Stock,
			}
		}
	}

	q := Quote{Subtotal: decimal.Zero}
	for _, l := range lines {
		p := byID[l.ProductID]
		lineSubtotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Items = append(q.Items, OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Price:       p.Price,
			Quantity:    l.Quantity,
			Subtotal:    lineSubtotal,
		})
		q.Subtotal = q.Subtotal.Add(lineSubtotal)
	}

	if isDelivery {
		q.DeliveryFee = deliveryFee
	} else {
		q.DeliveryFee = decimal.Zero
	}
	q.Total = q.Subtotal.Add(q.DeliveryFee)
	return q, nil
}

// mergeLines collapses repeated product ids into one line so stock checks
// see the cumulative quantity. First-occurrence order is kept.
func mergeLines(lines []LineRequest) []LineRequest {
	merged := make([]LineRequest, 0, len(lines))
	at := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := at[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		at[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}
