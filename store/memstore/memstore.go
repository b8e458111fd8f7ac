// Package memstore is an in-process store.Store used by tests and by the "memory"
// driver for local runs. A single mutex serialises every operation, which makes
// cart upserts and checkouts trivially atomic.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

type Store struct {
	mu         sync.Mutex
	users      []*models.User
	categories []models.Category
	menuItems  []models.MenuItem
	cart       []models.Cart
	orders     []models.Order
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func newID() string {
	return uuid.NewString()
}

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

// Users

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Groups = append([]string(nil), u.Groups...)
	return &c
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Name == u.Name {
			return store.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = newID()
	}
	s.users = append(s.users, cloneUser(u))
	return nil
}

func (s *Store) findUser(match func(*models.User) bool) *models.User {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *Store) UserByName(_ context.Context, name string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(func(u *models.User) bool { return u.Name == name })
	if u == nil {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) UserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(func(u *models.User) bool { return u.ID == id })
	if u == nil {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GroupMembers(_ context.Context, group string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := []models.User{}
	for _, u := range s.users {
		if u.InGroup(group) {
			members = append(members, *cloneUser(u))
		}
	}
	return members, nil
}

func (s *Store) AddToGroup(_ context.Context, userID, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(func(u *models.User) bool { return u.ID == userID })
	if u == nil {
		return store.ErrNotFound
	}
	if !u.InGroup(group) {
		u.Groups = append(u.Groups, group)
	}
	return nil
}

func (s *Store) RemoveFromGroup(_ context.Context, userID, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(func(u *models.User) bool { return u.ID == userID })
	if u == nil {
		return store.ErrNotFound
	}
	kept := u.Groups[:0]
	for _, g := range u.Groups {
		if g != group {
			kept = append(kept, g)
		}
	}
	u.Groups = kept
	return nil
}

// Catalog

func (s *Store) ListCategories(context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Category{}, s.categories...), nil
}

func (s *Store) CategoryByID(_ context.Context, id string) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.Slug == c.Slug {
			return store.ErrDuplicate
		}
	}
	c.ID = newID()
	s.categories = append(s.categories, *c)
	return nil
}

func (s *Store) ListMenuItems(_ context.Context, page models.Page) ([]models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.menuItems
	if page.PerPage > 0 {
		skip := page.Skip()
		if skip >= len(items) {
			return []models.MenuItem{}, nil
		}
		items = items[skip:min(skip+page.PerPage, len(items))]
	}
	return append([]models.MenuItem{}, items...), nil
}

func (s *Store) menuItemIndex(id string) int {
	for i, m := range s.menuItems {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) MenuItemByID(_ context.Context, id string) (*models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.menuItemIndex(id)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	m := s.menuItems[i]
	return &m, nil
}

func (s *Store) CreateMenuItem(_ context.Context, m *models.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = newID()
	s.menuItems = append(s.menuItems, *m)
	return nil
}

func (s *Store) UpdateMenuItem(_ context.Context, m *models.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.menuItemIndex(m.ID)
	if i < 0 {
		return store.ErrNotFound
	}
	s.menuItems[i] = *m
	return nil
}

func (s *Store) DeleteMenuItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.menuItemIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.menuItems = append(s.menuItems[:i], s.menuItems[i+1:]...)
	kept := s.cart[:0]
	for _, l := range s.cart {
		if l.MenuItem != id {
			kept = append(kept, l)
		}
	}
	s.cart = kept
	return nil
}

// Cart

func (s *Store) linesFor(userID string) []models.Cart {
	lines := []models.Cart{}
	for _, l := range s.cart {
		if l.User != userID {
			continue
		}
		if i := s.menuItemIndex(l.MenuItem); i >= 0 {
			item := s.menuItems[i]
			l.Item = &item
		}
		lines = append(lines, l)
	}
	return lines
}

func (s *Store) CartLines(_ context.Context, userID string) ([]models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesFor(userID), nil
}

func (s *Store) AddCartLine(_ context.Context, userID string, item *models.MenuItem) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cart {
		l := &s.cart[i]
		if l.User == userID && l.MenuItem == item.ID {
			l.Quantity++
			l.Price = l.Price.Add(l.UnitPrice)
			out := *l
			return &out, nil
		}
	}
	line := models.Cart{
		ID:        newID(),
		User:      userID,
		MenuItem:  item.ID,
		Quantity:  1,
		UnitPrice: item.Price,
		Price:     item.Price,
	}
	s.cart = append(s.cart, line)
	return &line, nil
}

func (s *Store) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCart(userID)
	return nil
}

func (s *Store) clearCart(userID string) {
	kept := s.cart[:0]
	for _, l := range s.cart {
		if l.User != userID {
			kept = append(kept, l)
		}
	}
	s.cart = kept
}

// Orders

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem{}, o.Items...)
	if o.DeliveryCrew != nil {
		crew := *o.DeliveryCrew
		o.DeliveryCrew = &crew
	}
	return o
}

func (s *Store) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		if f.User != "" && o.User != f.User {
			continue
		}
		if f.DeliveryCrew != "" && (o.DeliveryCrew == nil || *o.DeliveryCrew != f.DeliveryCrew) {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	return orders, nil
}

func (s *Store) orderIndex(id string) int {
	for i, o := range s.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) OrderByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.orderIndex(id)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	o := cloneOrder(s.orders[i])
	return &o, nil
}

func (s *Store) Checkout(_ context.Context, userID string, build store.BuildOrder) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := build(s.linesFor(userID))
	if err != nil {
		return nil, err
	}
	order.ID = newID()
	for i := range order.Items {
		order.Items[i].ID = newID()
		order.Items[i].Order = order.ID
	}
	s.orders = append(s.orders, cloneOrder(*order))
	s.clearCart(userID)
	return order, nil
}

func (s *Store) UpdateOrder(_ context.Context, id string, p models.OrderPatch) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.orderIndex(id)
	if i < 0 {
		return nil, store.ErrNotFound
	}
	if p.Status != nil {
		s.orders[i].Status = *p.Status
	}
	if p.DeliveryCrew != nil {
		crew := *p.DeliveryCrew
		s.orders[i].DeliveryCrew = &crew
	}
	o := cloneOrder(s.orders[i])
	return &o, nil
}

func (s *Store) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.orderIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.orders = append(s.orders[:i], s.orders[i+1:]...)
	return nil
}
