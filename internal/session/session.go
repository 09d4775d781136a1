// Package session is the conversational state served by nemurid.
//
// A shopping conversation is a Session and a Cart living in two caches. Both
// point at the same Customer; the pair is kept in one cache group so the
// shared Customer survives passivation as a single object.
package session

import (
	"encoding/gob"
	"time"
)

const customerKey = "customer"

func init() {
	gob.Register(&Customer{})
}

// Customer は Session と Cart が共有する顧客情報です。
type Customer struct {
	Name   string
	Visits int
}

// Item はカートの明細です。
type Item struct {
	SKU        string `json:"sku"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

// Receipt は会計結果です。
type Receipt struct {
	Lines         int    `json:"lines"`
	SubtotalCents int64  `json:"subtotal_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`
	PricedBy      string `json:"priced_by"`
}

// Session は会話の状態です。
type Session struct {
	CartID       string
	GroupID      string
	OpenedAt     time.Time
	Receipt      *Receipt
	Passivations int
	Activations  int

	customer *Customer
}

// Customer は共有されている顧客情報を返します。
func (s *Session) Customer() *Customer { return s.customer }

// Finished は会計済みかを返します。
func (s *Session) Finished() bool { return s.Receipt != nil }

// SharedRefs implements cache.SharedGraph.
func (s *Session) SharedRefs() map[string]any { return map[string]any{customerKey: s.customer} }

// Relink implements cache.SharedGraph.
func (s *Session) Relink(shared map[string]any) { s.customer, _ = shared[customerKey].(*Customer) }

// Cart はセッションに紐づくカートです。
type Cart struct {
	SessionID string
	Items     []Item

	customer *Customer
}

// Customer は共有されている顧客情報を返します。
func (c *Cart) Customer() *Customer { return c.customer }

// SharedRefs implements cache.SharedGraph.
func (c *Cart) SharedRefs() map[string]any { return map[string]any{customerKey: c.customer} }

// Relink implements cache.SharedGraph.
func (c *Cart) Relink(shared map[string]any) { c.customer, _ = shared[customerKey].(*Customer) }

// View は API が返すセッションの表現です。
type View struct {
	ID       string    `json:"id"`
	CartID   string    `json:"cart_id"`
	Group    string    `json:"group"`
	Customer string    `json:"customer"`
	Visits   int       `json:"visits"`
	Items    []Item    `json:"items"`
	Receipt  *Receipt  `json:"receipt,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

func newView(id string, s *Session, c *Cart) View {
	v := View{
		ID:       id,
		CartID:   s.CartID,
		Group:    s.GroupID,
		Receipt:  s.Receipt,
		OpenedAt: s.OpenedAt,
		Items:    []Item{},
	}
	if s.customer != nil {
		v.Customer = s.customer.Name
		v.Visits = s.customer.Visits
	}
	if c != nil && c.Items != nil {
		v.Items = c.Items
	}
	return v
}
