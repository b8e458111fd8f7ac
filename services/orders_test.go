package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_trial/littlelemon/events"
	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store/memstore"
)

func (f *fixture) placeOrder(t *testing.T, id models.Identity, items ...models.MenuItem) *models.Order {
	t.Helper()
	for _, it := range items {
		_, err := f.svc.Carts.Add(f.ctx, id, it.ID)
		require.NoError(t, err)
	}
	order, err := f.svc.Orders.Create(f.ctx, id)
	require.NoError(t, err)
	return order
}

func TestCreateOrderFromCart(t *testing.T) {
	f := newFixture(t, Policy{})

	order := f.placeOrder(t, f.customer, f.item, f.item)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, f.customer.UserID, order.User)
	assert.Equal(t, models.StatusOutForDelivery, order.Status)
	assert.Equal(t, fixedNow, order.Date)
	assert.Nil(t, order.DeliveryCrew)
	assert.True(t, order.Total.Equal(dec("20.00")), "total %s", order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].UnitPrice.Equal(dec("10.00")))
	assert.True(t, order.Items[0].Price.Equal(dec("20.00")))
	assert.Equal(t, order.ID, order.Items[0].Order)

	lines, err := f.svc.Carts.View(f.ctx, f.customer)
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.Equal(t, []string{events.OrderCreated}, f.pub.types())
}

func TestCreateOrderTotalMatchesCart(t *testing.T) {
	f := newFixture(t, Policy{})
	soup := f.menuItem(t, "Lemon soup", "4.35")
	bruschetta := f.menuItem(t, "Bruschetta", "7.99")

	for _, it := range []models.MenuItem{soup, bruschetta, soup, f.item, soup} {
		_, err := f.svc.Carts.Add(f.ctx, f.customer, it.ID)
		require.NoError(t, err)
	}
	lines, err := f.svc.Carts.View(f.ctx, f.customer)
	require.NoError(t, err)
	cartTotal := dec("0")
	for _, l := range lines {
		cartTotal = cartTotal.Add(l.Price)
	}

	order, err := f.svc.Orders.Create(f.ctx, f.customer)
	require.NoError(t, err)

	itemsTotal := dec("0")
	for _, it := range order.Items {
		assert.True(t, it.Price.Equal(it.UnitPrice.Mul(decFromInt(it.Quantity))))
		itemsTotal = itemsTotal.Add(it.Price)
	}
	assert.True(t, order.Total.Equal(itemsTotal))
	assert.True(t, order.Total.Equal(cartTotal))
	assert.True(t, order.Total.Equal(dec("31.04")), "total %s", order.Total)
}

func TestCreateOrderRequiresCustomer(t *testing.T) {
	f := newFixture(t, Policy{})
	for _, id := range []models.Identity{f.manager, f.crew} {
		_, err := f.svc.Carts.Add(f.ctx, id, f.item.ID)
		require.NoError(t, err)

		_, err = f.svc.Orders.Create(f.ctx, id)
		assert.ErrorIs(t, err, ErrUnauthorized, id.Role.String())

		lines, err := f.svc.Carts.View(f.ctx, id)
		require.NoError(t, err)
		assert.Len(t, lines, 1, "cart must be left untouched")
	}
	assert.Empty(t, f.pub.types())
}

func TestCreateOrderEmptyCart(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		f := newFixture(t, Policy{})
		order, err := f.svc.Orders.Create(f.ctx, f.customer)
		require.NoError(t, err)
		assert.Empty(t, order.Items)
		assert.True(t, order.Total.IsZero())
	})

	t.Run("rejected by policy", func(t *testing.T) {
		f := newFixture(t, Policy{RejectEmptyCart: true})
		_, err := f.svc.Orders.Create(f.ctx, f.customer)
		assert.ErrorIs(t, err, ErrBadRequest)

		orders, err := f.svc.Orders.List(f.ctx, f.manager)
		require.NoError(t, err)
		assert.Empty(t, orders)
	})
}

func TestConcurrentCheckoutConvertsCartOnce(t *testing.T) {
	f := newFixture(t, Policy{RejectEmptyCart: true})
	_, err := f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)
	_, err = f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Orders.Create(f.ctx, f.customer); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrBadRequest)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	orders, err := f.svc.Orders.List(f.ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 2, orders[0].Items[0].Quantity)
}

func TestListOrdersByRole(t *testing.T) {
	f := newFixture(t, Policy{})
	mine := f.placeOrder(t, f.customer, f.item)
	theirs := f.placeOrder(t, f.other, f.item)

	_, _, err := f.svc.Orders.Update(f.ctx, f.manager, theirs.ID, OrderUpdate{DeliveryID: &f.crew.UserID})
	require.NoError(t, err)

	all, err := f.svc.Orders.List(f.ctx, f.manager)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assigned, err := f.svc.Orders.List(f.ctx, f.crew)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, theirs.ID, assigned[0].ID)

	own, err := f.svc.Orders.List(f.ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	got, err := f.svc.Orders.Get(f.ctx, f.customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.svc.Orders.Get(f.ctx, f.other, order.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Orders.Get(f.ctx, f.manager, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Orders.Get(f.ctx, f.crew, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Orders.Get(f.ctx, f.customer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrderStaffPolicy(t *testing.T) {
	f := newFixture(t, Policy{StaffCanViewOrders: true})
	order := f.placeOrder(t, f.customer, f.item)

	_, err := f.svc.Orders.Get(f.ctx, f.manager, order.ID)
	assert.NoError(t, err)

	_, err = f.svc.Orders.Get(f.ctx, f.crew, order.ID)
	assert.ErrorIs(t, err, ErrForbidden, "crew sees only assigned orders")

	_, _, err = f.svc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{DeliveryID: &f.crew.UserID})
	require.NoError(t, err)
	_, err = f.svc.Orders.Get(f.ctx, f.crew, order.ID)
	assert.NoError(t, err)
}

func TestManagerUpdatesOrder(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	updated, msg, err := f.svc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{
		Status:     ptr(1),
		DeliveryID: &f.crew.UserID,
	})
	require.NoError(t, err)
	assert.Equal(t, MsgOrderUpdated, msg)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	require.NotNil(t, updated.DeliveryCrew)
	assert.Equal(t, f.crew.UserID, *updated.DeliveryCrew)

	stored, err := f.store.OrderByID(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Equal(t, f.crew.UserID, *stored.DeliveryCrew)

	assert.Equal(t, []string{events.OrderCreated, events.OrderUpdated}, f.pub.types())
}

// interleavingStore runs between once, right after the next order read.
type interleavingStore struct {
	*memstore.Store
	between func()
}

func (s *interleavingStore) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.Store.OrderByID(ctx, id)
	if fn := s.between; fn != nil {
		s.between = nil
		fn()
	}
	return o, err
}

func TestConcurrentOrderEditsKeepBothFields(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	st := &interleavingStore{Store: f.store}
	st.between = func() {
		_, _, err := f.svc.Orders.Update(f.ctx, f.crew, order.ID, OrderUpdate{Status: ptr(1), Partial: true})
		require.NoError(t, err)
	}
	managerSvc := New(Deps{
		Store:     st,
		Publisher: events.Nop{},
		Tokens:    NewTokens("test-secret", time.Hour, 24*time.Hour),
		Now:       func() time.Time { return fixedNow },
	})

	updated, _, err := managerSvc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{
		DeliveryID: &f.crew.UserID,
		Partial:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)

	stored, err := f.store.OrderByID(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status, "crew status update lost")
	require.NotNil(t, stored.DeliveryCrew)
	assert.Equal(t, f.crew.UserID, *stored.DeliveryCrew)
}

func TestManagerAssignsNonCrewIsRejected(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	for _, deliveryID := range []string{f.other.UserID, "no-such-user"} {
		_, _, err := f.svc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{
			Status:     ptr(1),
			DeliveryID: ptr(deliveryID),
			Partial:    true,
		})
		require.ErrorIs(t, err, ErrBadRequest)
		var svcErr *Error
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, MsgInvalidDeliveryCrew, svcErr.Message)
	}

	stored, err := f.store.OrderByID(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutForDelivery, stored.Status, "status must not change")
	assert.Nil(t, stored.DeliveryCrew)
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	_, _, err := f.svc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{Status: ptr(7), DeliveryID: &f.crew.UserID})
	assert.ErrorIs(t, err, ErrBadRequest)

	stored, err := f.store.OrderByID(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DeliveryCrew)
}

func TestDeliveryCrewPatchesStatus(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	_, _, err := f.svc.Orders.Update(f.ctx, f.crew, order.ID, OrderUpdate{Partial: true})
	require.ErrorIs(t, err, ErrBadRequest)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, MsgBadRequest, svcErr.Message)

	_, _, err = f.svc.Orders.Update(f.ctx, f.crew, order.ID, OrderUpdate{Status: ptr(1)})
	assert.ErrorIs(t, err, ErrUnauthorized, "PUT is not open to delivery crew")

	updated, msg, err := f.svc.Orders.Update(f.ctx, f.crew, order.ID, OrderUpdate{
		Status:     ptr(1),
		DeliveryID: &f.crew.UserID,
		Partial:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, MsgStatusUpdated, msg)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	assert.Nil(t, updated.DeliveryCrew, "delivery crew may only change status")
}

func TestDeliveryCrewAssignedOnlyPolicy(t *testing.T) {
	f := newFixture(t, Policy{DeliveryCrewAssignedOnly: true})
	order := f.placeOrder(t, f.customer, f.item)
	patch := OrderUpdate{Status: ptr(1), Partial: true}

	_, _, err := f.svc.Orders.Update(f.ctx, f.crew, order.ID, patch)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = f.svc.Orders.Update(f.ctx, f.manager, order.ID, OrderUpdate{DeliveryID: &f.crew.UserID})
	require.NoError(t, err)

	_, _, err = f.svc.Orders.Update(f.ctx, f.crew, order.ID, patch)
	assert.NoError(t, err)
}

func TestCustomerCannotUpdateOrDelete(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	_, _, err := f.svc.Orders.Update(f.ctx, f.customer, order.ID, OrderUpdate{Status: ptr(1), Partial: true})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.svc.Orders.Delete(f.ctx, f.customer, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized, "owner is not enough")

	err = f.svc.Orders.Delete(f.ctx, f.crew, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.store.OrderByID(f.ctx, order.ID)
	assert.NoError(t, err)
}

func TestManagerDeletesOrder(t *testing.T) {
	f := newFixture(t, Policy{})
	order := f.placeOrder(t, f.customer, f.item)

	require.NoError(t, f.svc.Orders.Delete(f.ctx, f.manager, order.ID))
	_, err := f.svc.Orders.Get(f.ctx, f.customer, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.Orders.Delete(f.ctx, f.manager, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{events.OrderCreated, events.OrderDeleted}, f.pub.types())
}
