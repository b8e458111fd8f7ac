package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

type MenuItem struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Featured bool            `json:"featured"`
	Category string          `json:"category"`
}

// Cart is one line of a user's basket. There is at most one line per menu item per user.
type Cart struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	MenuItem  string          `json:"menuitem"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Price     decimal.Decimal `json:"price"`
	Item      *MenuItem       `json:"menuitem_detail,omitempty"`
}

// OrderStatus is the binary delivery flag of an order.
type OrderStatus int

const (
	StatusOutForDelivery OrderStatus = 0
	StatusDelivered      OrderStatus = 1
)

func (s OrderStatus) Valid() bool {
	return s == StatusOutForDelivery || s == StatusDelivered
}

type Order struct {
	ID           string          `json:"id"`
	User         string          `json:"user"`
	DeliveryCrew *string         `json:"delivery_crew"`
	Status       OrderStatus     `json:"status"`
	Total        decimal.Decimal `json:"total"`
	Date         time.Time       `json:"date"`
	Items        []OrderItem     `json:"order_items"`
}

type OrderItem struct {
	ID        string          `json:"id"`
	Order     string          `json:"order"`
	MenuItem  string          `json:"menuitem"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Price     decimal.Decimal `json:"price"`
}

// OrderPatch names the order fields an update writes. Nil fields keep their stored value.
type OrderPatch struct {
	Status       *OrderStatus
	DeliveryCrew *string
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	User         string
	DeliveryCrew string
}

// Page is an optional window over a listing. A zero PerPage means no paging.
type Page struct {
	Number  int
	PerPage int
}

func (p Page) Skip() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.PerPage
}
