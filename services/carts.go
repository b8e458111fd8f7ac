package services

import (
	"context"
	"strings"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

type carts interface {
	store.Carts
	MenuItemByID(ctx context.Context, id string) (*models.MenuItem, error)
}

type Carts struct {
	store carts
}

func (c *Carts) View(ctx context.Context, id models.Identity) ([]models.Cart, error) {
	lines, err := c.store.CartLines(ctx, id.UserID)
	if err != nil {
		return nil, fromStore(err, "view cart", "")
	}
	return lines, nil
}

// Add puts one more of the menu item into the caller's cart. The unit price is
// captured when the line is first created and never changes afterwards.
func (c *Carts) Add(ctx context.Context, id models.Identity, menuItemID string) (*models.Cart, error) {
	menuItemID = strings.TrimSpace(menuItemID)
	if menuItemID == "" {
		return nil, badRequest("menuitem is required.")
	}
	item, err := c.store.MenuItemByID(ctx, menuItemID)
	if err != nil {
		return nil, fromStore(err, "get menu item", menuItemNotFound)
	}
	line, err := c.store.AddCartLine(ctx, id.UserID, item)
	if err != nil {
		return nil, fromStore(err, "add cart line", menuItemNotFound)
	}
	line.Item = item
	return line, nil
}

func (c *Carts) Clear(ctx context.Context, id models.Identity) error {
	if err := c.store.ClearCart(ctx, id.UserID); err != nil {
		return fromStore(err, "clear cart", "")
	}
	return nil
}
