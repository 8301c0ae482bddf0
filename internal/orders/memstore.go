package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

// MemStore is the in-memory Store used by tests and local runs without
// Postgres. A single mutex stands in for the row locks of the SQL store,
// giving the same serialization guarantees: no lost stock updates, no two
// transitions winning against the same prior state.
type MemStore struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	orders   map[string]*Order
	counters map[string]int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]*catalog.Product),
		orders:   make(map[string]*Order),
		counters: make(map[string]int),
	}
}

// SeedProduct adds or replaces a catalog product.
func (s *MemStore) SeedProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	if p.Stock != nil {
		v := *p.Stock
		cp.Stock = &v
	}
	s.products[p.ID] = &cp
}

// ProductStock returns the current stock of a product (nil = unlimited).
// Test hook.
func (s *MemStore) ProductStock(id string) *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.Stock == nil {
		return nil
	}
	v := *p.Stock
	return &v
}

// RemoveProduct deletes a product outright, simulating catalog changes
// after purchase. Test hook.
func (s *MemStore) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func (s *MemStore) PurchasableProducts(_ context.Context, ids []string) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Product
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok || !p.Purchasable() {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *MemStore) CreateOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Guard phase: nothing is mutated until every line passes. Quantities
	// accumulate per product so repeated lines are checked against what
	// the earlier ones already claimed.
	need := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		p, ok := s.products[it.ProductID]
		if !ok || !p.Purchasable() {
			return &ProductsUnavailableError{ProductIDs: []string{it.ProductID}}
		}
		need[it.ProductID] += it.Quantity
		if p.Stock != nil && *p.Stock < need[it.ProductID] {
			return &InsufficientStockError{
				ProductID:   it.ProductID,
				ProductName: p.Name,
				Requested:   need[it.ProductID],
				Available:   *p.Stock,
			}
		}
	}

	for _, it := range o.Items {
		if p := s.products[it.ProductID]; p.Stock != nil {
			*p.Stock -= it.Quantity
		}
	}

	day := o.CreatedAt.UTC().Format("20060102")
	s.counters[day]++
	o.OrderNumber = fmt.Sprintf("ORD-%s-%03d", day, s.counters[day])

	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}
	o.Payment.OrderID = o.ID

	stored := o.clone()
	s.orders[o.ID] = &stored
	return nil
}

func (s *MemStore) Order(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemStore) OrderByNumber(_ context.Context, number string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == number {
			return o.clone(), nil
		}
	}
	return Order{}, ErrNotFound
}

func (s *MemStore) OrderByPhoneAndNumber(_ context.Context, phone, number string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == number && o.CustomerPhone == phone {
			return o.clone(), nil
		}
	}
	return Order{}, ErrNotFound
}

func (s *MemStore) Orders(_ context.Context, f ListFilter) ([]Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Order
	for _, o := range s.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.CustomerPhone != "" && !strings.Contains(o.CustomerPhone, f.CustomerPhone) {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		all = append(all, o.clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalRevenue: decimal.Zero}
	for _, o := range s.orders {
		st.TotalOrders++
		switch o.Status {
		case StatusPending:
			st.PendingOrders++
		case StatusCompleted:
			st.CompletedOrders++
			st.TotalRevenue = st.TotalRevenue.Add(o.Total)
		}
	}
	return st, nil
}

func (s *MemStore) Transition(_ context.Context, orderID string, to Status, adminNotes *string, now time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	res, err := ApplyTransition(*o, to, adminNotes, now)
	if err != nil {
		return Order{}, err
	}
	s.applyRestock(res.Restock)
	stored := res.Order.clone()
	s.orders[orderID] = &stored
	return res.Order, nil
}

func (s *MemStore) applyRestock(items []RestockItem) {
	for _, it := range items {
		p, ok := s.products[it.ProductID]
		if !ok || p.Stock == nil {
			continue // best-effort, like the SQL store's guarded UPDATE
		}
		*p.Stock += it.Quantity
	}
}

func (s *MemStore) OrderByTransactionID(_ context.Context, transactionID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findByTransactionLocked(transactionID)
	if o == nil {
		return Order{}, ErrUnknownTransaction
	}
	return o.clone(), nil
}

func (s *MemStore) findByTransactionLocked(transactionID string) *Order {
	for _, o := range s.orders {
		if o.Payment != nil && o.Payment.TransactionID != nil && *o.Payment.TransactionID == transactionID {
			return o
		}
	}
	return nil
}

func (s *MemStore) MarkPaymentProcessing(_ context.Context, orderID, transactionID, transactionRef string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Payment == nil {
		return ErrNotFound
	}
	if o.Payment.Status != PaymentPending {
		return ErrPaymentInProgress
	}
	o.Payment.Status = PaymentProcessing
	o.Payment.TransactionID = &transactionID
	o.Payment.TransactionRef = &transactionRef
	o.Payment.UpdatedAt = now
	return nil
}

func (s *MemStore) MarkPaymentFailed(_ context.Context, orderID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Payment == nil {
		return ErrNotFound
	}
	if o.Payment.Status != PaymentPending {
		return ErrPaymentInProgress
	}
	o.Payment.Status = PaymentFailed
	o.Payment.FailureReason = &reason
	o.Payment.UpdatedAt = now
	return nil
}

func (s *MemStore) ApplyPaymentResult(_ context.Context, transactionID string, res PaymentResult, now time.Time) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findByTransactionLocked(transactionID)
	if o == nil {
		return Order{}, false, ErrUnknownTransaction
	}
	if o.Payment.Status.Terminal() {
		return o.clone(), false, nil
	}

	out, err := reconcile(*o, res, now)
	if err != nil {
		return Order{}, false, err
	}
	if out.transition != nil {
		s.applyRestock(out.transition.Restock)
	}
	stored := out.order.clone()
	s.orders[o.ID] = &stored
	return out.order, true, nil
}
