// Package storetest holds the behaviour every store.Store backend must share.
// Names are randomised so the suite can run against a shared database.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

// Run executes the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"Groups", testGroups},
		{"Catalog", testCatalog},
		{"CartUpsert", testCartUpsert},
		{"ConcurrentCartAdds", testConcurrentCartAdds},
		{"Checkout", testCheckout},
		{"CheckoutRollback", testCheckoutRollback},
		{"ConcurrentCheckout", testConcurrentCheckout},
		{"Orders", testOrders},
		{"DeleteMenuItemDropsCartLines", testDeleteMenuItemDropsCartLines},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newUser(t *testing.T, s store.Store, groups ...string) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Name: unique("user"), Email: "user@littlelemon.test", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)
	for _, g := range groups {
		require.NoError(t, s.AddToGroup(ctx, u.ID, g))
	}
	return u
}

func newMenuItem(t *testing.T, s store.Store, price string) *models.MenuItem {
	t.Helper()
	ctx := context.Background()
	c := &models.Category{Slug: unique("cat"), Title: "Category"}
	require.NoError(t, s.CreateCategory(ctx, c))
	m := &models.MenuItem{Title: unique("item"), Price: dec(price), Category: c.ID}
	require.NoError(t, s.CreateMenuItem(ctx, m))
	require.NotEmpty(t, m.ID)
	return m
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)

	byName, err := s.UserByName(ctx, u.Name)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	assert.Equal(t, "hash", byName.PasswordHash)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Name, byID.Name)

	err = s.CreateUser(ctx, &models.User{Name: u.Name, PasswordHash: "x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.UserByName(ctx, unique("nobody"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testGroups(t *testing.T, s store.Store) {
	ctx := context.Background()
	group := unique("group")
	u := newUser(t, s, group)

	// Adding twice keeps a single membership.
	require.NoError(t, s.AddToGroup(ctx, u.ID, group))
	members, err := s.GroupMembers(ctx, group)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, u.ID, members[0].ID)

	loaded, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, loaded.InGroup(group))

	require.NoError(t, s.RemoveFromGroup(ctx, u.ID, group))
	members, err = s.GroupMembers(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, s.AddToGroup(ctx, "missing", group), store.ErrNotFound)
	assert.ErrorIs(t, s.RemoveFromGroup(ctx, "missing", group), store.ErrNotFound)
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := &models.Category{Slug: unique("starters"), Title: "Starters"}
	require.NoError(t, s.CreateCategory(ctx, c))
	assert.ErrorIs(t, s.CreateCategory(ctx, &models.Category{Slug: c.Slug, Title: "Again"}), store.ErrDuplicate)

	got, err := s.CategoryByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Slug, got.Slug)
	_, err = s.CategoryByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	m := &models.MenuItem{Title: unique("bruschetta"), Price: dec("7.99"), Featured: true, Category: c.ID}
	require.NoError(t, s.CreateMenuItem(ctx, m))

	loaded, err := s.MenuItemByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, loaded.Title)
	assert.True(t, loaded.Price.Equal(dec("7.99")), "price %s", loaded.Price)
	assert.True(t, loaded.Featured)
	assert.Equal(t, c.ID, loaded.Category)

	loaded.Price = dec("8.50")
	loaded.Featured = false
	require.NoError(t, s.UpdateMenuItem(ctx, loaded))
	updated, err := s.MenuItemByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(dec("8.50")))
	assert.False(t, updated.Featured)

	items, err := s.ListMenuItems(ctx, models.Page{})
	require.NoError(t, err)
	assert.Contains(t, ids(items), m.ID)

	page, err := s.ListMenuItems(ctx, models.Page{Number: 1, PerPage: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	require.NoError(t, s.DeleteMenuItem(ctx, m.ID))
	_, err = s.MenuItemByID(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMenuItem(ctx, m.ID), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateMenuItem(ctx, &models.MenuItem{ID: "missing", Category: c.ID}), store.ErrNotFound)
}

func ids(items []models.MenuItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func testCartUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	m := newMenuItem(t, s, "10.00")

	first, err := s.AddCartLine(ctx, u.ID, m)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Quantity)
	assert.True(t, first.Price.Equal(dec("10.00")))

	// A later catalog price change does not reach the existing line.
	m.Price = dec("12.00")
	second, err := s.AddCartLine(ctx, u.ID, m)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Quantity)
	assert.True(t, second.UnitPrice.Equal(dec("10.00")), "unit price %s", second.UnitPrice)
	assert.True(t, second.Price.Equal(dec("20.00")), "price %s", second.Price)

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.NotNil(t, lines[0].Item)
	assert.Equal(t, m.ID, lines[0].Item.ID)

	require.NoError(t, s.ClearCart(ctx, u.ID))
	require.NoError(t, s.ClearCart(ctx, u.ID))
	lines, err = s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func testConcurrentCartAdds(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	m := newMenuItem(t, s, "2.50")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddCartLine(ctx, u.ID, m)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, n, lines[0].Quantity)
	assert.True(t, lines[0].Price.Equal(dec("25.00")), "price %s", lines[0].Price)
}

// build mirrors the service: one item per line, total is the sum of line prices.
func build(userID string) store.BuildOrder {
	return func(lines []models.Cart) (*models.Order, error) {
		o := &models.Order{User: userID, Total: decimal.Zero, Date: time.Now().UTC().Truncate(time.Millisecond)}
		for _, l := range lines {
			o.Items = append(o.Items, models.OrderItem{
				MenuItem: l.MenuItem, Quantity: l.Quantity, UnitPrice: l.UnitPrice, Price: l.Price,
			})
			o.Total = o.Total.Add(l.Price)
		}
		return o, nil
	}
}

func testCheckout(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	soup := newMenuItem(t, s, "4.35")
	salad := newMenuItem(t, s, "10.00")
	for _, m := range []*models.MenuItem{soup, salad, soup} {
		_, err := s.AddCartLine(ctx, u.ID, m)
		require.NoError(t, err)
	}

	order, err := s.Checkout(ctx, u.ID, build(u.ID))
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	assert.True(t, order.Total.Equal(dec("18.70")), "total %s", order.Total)
	require.Len(t, order.Items, 2)

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	loaded, err := s.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, loaded.User)
	assert.Equal(t, models.StatusOutForDelivery, loaded.Status)
	assert.Nil(t, loaded.DeliveryCrew)
	assert.True(t, loaded.Total.Equal(dec("18.70")))
	require.Len(t, loaded.Items, 2)
	for _, it := range loaded.Items {
		assert.Equal(t, order.ID, it.Order)
		assert.True(t, it.Price.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))))
	}

	empty, err := s.Checkout(ctx, u.ID, build(u.ID))
	require.NoError(t, err)
	assert.True(t, empty.Total.IsZero())
	assert.Empty(t, empty.Items)
}

func testDeleteMenuItemDropsCartLines(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	soup := newMenuItem(t, s, "4.35")
	salad := newMenuItem(t, s, "10.00")

	_, err := s.AddCartLine(ctx, u.ID, soup)
	require.NoError(t, err)
	earlier, err := s.Checkout(ctx, u.ID, build(u.ID))
	require.NoError(t, err)

	for _, m := range []*models.MenuItem{soup, salad} {
		_, err := s.AddCartLine(ctx, u.ID, m)
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteMenuItem(ctx, soup.ID))

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, salad.ID, lines[0].MenuItem)

	order, err := s.Checkout(ctx, u.ID, build(u.ID))
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, salad.ID, order.Items[0].MenuItem)
	assert.True(t, order.Total.Equal(dec("10.00")), "total %s", order.Total)

	// Placed orders keep their lines.
	loaded, err := s.OrderByID(ctx, earlier.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, soup.ID, loaded.Items[0].MenuItem)
}

func testCheckoutRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	m := newMenuItem(t, s, "3.00")
	_, err := s.AddCartLine(ctx, u.ID, m)
	require.NoError(t, err)

	refused := errors.New("refused")
	_, err = s.Checkout(ctx, u.ID, func([]models.Cart) (*models.Order, error) { return nil, refused })
	assert.ErrorIs(t, err, refused)

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	orders, err := s.ListOrders(ctx, models.OrderFilter{User: u.ID})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// testConcurrentCheckout double-submits a checkout. Each cart line must end up in
// exactly one order.
func testConcurrentCheckout(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	m := newMenuItem(t, s, "5.00")
	for range 3 {
		_, err := s.AddCartLine(ctx, u.ID, m)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Checkout(ctx, u.ID, build(u.ID))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, store.ErrConflict)
		}
	}

	orders, err := s.ListOrders(ctx, models.OrderFilter{User: u.ID})
	require.NoError(t, err)
	quantity := 0
	total := decimal.Zero
	for _, o := range orders {
		for _, it := range o.Items {
			quantity += it.Quantity
		}
		total = total.Add(o.Total)
	}
	assert.Equal(t, 3, quantity)
	assert.True(t, total.Equal(dec("15.00")), "total %s", total)

	lines, err := s.CartLines(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func testOrders(t *testing.T, s store.Store) {
	ctx := context.Background()
	customer := newUser(t, s)
	other := newUser(t, s)
	crew := newUser(t, s, models.GroupDeliveryCrew)
	m := newMenuItem(t, s, "6.00")

	place := func(u *models.User) *models.Order {
		_, err := s.AddCartLine(ctx, u.ID, m)
		require.NoError(t, err)
		o, err := s.Checkout(ctx, u.ID, build(u.ID))
		require.NoError(t, err)
		return o
	}
	mine := place(customer)
	theirs := place(other)

	orders, err := s.ListOrders(ctx, models.OrderFilter{User: customer.ID})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, mine.ID, orders[0].ID)
	assert.Len(t, orders[0].Items, 1)

	delivered := models.StatusDelivered
	updated, err := s.UpdateOrder(ctx, mine.ID, models.OrderPatch{Status: &delivered})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	assert.Nil(t, updated.DeliveryCrew)

	updated, err = s.UpdateOrder(ctx, mine.ID, models.OrderPatch{DeliveryCrew: &crew.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status, "assigning crew keeps the stored status")
	require.NotNil(t, updated.DeliveryCrew)
	assert.Equal(t, crew.ID, *updated.DeliveryCrew)

	assigned, err := s.ListOrders(ctx, models.OrderFilter{DeliveryCrew: crew.ID})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, mine.ID, assigned[0].ID)
	assert.Equal(t, models.StatusDelivered, assigned[0].Status)
	require.NotNil(t, assigned[0].DeliveryCrew)
	assert.Equal(t, crew.ID, *assigned[0].DeliveryCrew)

	all, err := s.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	var allIDs []string
	for _, o := range all {
		allIDs = append(allIDs, o.ID)
	}
	assert.Subset(t, allIDs, []string{mine.ID, theirs.ID})

	require.NoError(t, s.DeleteOrder(ctx, theirs.ID))
	_, err = s.OrderByID(ctx, theirs.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteOrder(ctx, theirs.ID), store.ErrNotFound)
	_, err = s.UpdateOrder(ctx, theirs.ID, models.OrderPatch{Status: &delivered})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
