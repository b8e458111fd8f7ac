package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddToCartTwiceFreezesUnitPrice(t *testing.T) {
	f := newFixture(t, Policy{})

	line, err := f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)
	assert.True(t, line.UnitPrice.Equal(dec("10.00")))
	require.NotNil(t, line.Item)
	assert.Equal(t, f.item.Title, line.Item.Title)

	price := dec("12.50")
	_, err = f.svc.Catalog.UpdateMenuItem(f.ctx, f.manager, f.item.ID, MenuItemInput{Price: &price}, true)
	require.NoError(t, err)

	line, err = f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, line.UnitPrice.Equal(dec("10.00")), "unit price %s", line.UnitPrice)
	assert.True(t, line.Price.Equal(dec("20.00")), "price %s", line.Price)

	lines, err := f.svc.Carts.View(f.ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Item.Price.Equal(dec("12.50")), "detail shows the current catalog price")
}

func TestAddToCartUnknownItem(t *testing.T) {
	f := newFixture(t, Policy{})

	_, err := f.svc.Carts.Add(f.ctx, f.customer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Carts.Add(f.ctx, f.customer, " ")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestConcurrentAddsKeepOneLine(t *testing.T) {
	f := newFixture(t, Policy{})
	const adds = 25

	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := f.svc.Carts.View(f.ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, adds, lines[0].Quantity)
	assert.True(t, lines[0].Price.Equal(dec("250.00")))
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)

	lines, err := f.svc.Carts.View(f.ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestClearCartIsIdempotent(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.Carts.Add(f.ctx, f.customer, f.item.ID)
	require.NoError(t, err)
	_, err = f.svc.Carts.Add(f.ctx, f.other, f.item.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Carts.Clear(f.ctx, f.customer))
	require.NoError(t, f.svc.Carts.Clear(f.ctx, f.customer))

	lines, err := f.svc.Carts.View(f.ctx, f.customer)
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = f.svc.Carts.View(f.ctx, f.other)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
