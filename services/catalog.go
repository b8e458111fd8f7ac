package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

const menuItemNotFound = "Menu item not found."

type Catalog struct {
	store  store.Catalog
	policy Policy
}

// MenuItemInput carries menu item fields. Nil fields are left unchanged on a partial
// update and are required on create or full replace.
type MenuItemInput struct {
	Title    *string
	Price    *decimal.Decimal
	Featured *bool
	Category *string
}

func (c *Catalog) ListCategories(ctx context.Context, _ models.Identity) ([]models.Category, error) {
	categories, err := c.store.ListCategories(ctx)
	if err != nil {
		return nil, fromStore(err, "list categories", "")
	}
	return categories, nil
}

func (c *Catalog) CreateCategory(ctx context.Context, id models.Identity, slug, title string) (*models.Category, error) {
	if c.policy.ManagerOnlyCategories && id.Role != models.RoleManager {
		return nil, forbidden()
	}
	slug, title = strings.TrimSpace(slug), strings.TrimSpace(title)
	if slug == "" || title == "" {
		return nil, badRequest("Both slug and title are required.")
	}
	category := &models.Category{Slug: slug, Title: title}
	if err := c.store.CreateCategory(ctx, category); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, badRequest("A category with this slug already exists.")
		}
		return nil, fromStore(err, "create category", "")
	}
	return category, nil
}

func (c *Catalog) ListMenuItems(ctx context.Context, _ models.Identity, page models.Page) ([]models.MenuItem, error) {
	items, err := c.store.ListMenuItems(ctx, page)
	if err != nil {
		return nil, fromStore(err, "list menu items", "")
	}
	return items, nil
}

func (c *Catalog) GetMenuItem(ctx context.Context, _ models.Identity, itemID string) (*models.MenuItem, error) {
	item, err := c.store.MenuItemByID(ctx, itemID)
	if err != nil {
		return nil, fromStore(err, "get menu item", menuItemNotFound)
	}
	return item, nil
}

func (c *Catalog) CreateMenuItem(ctx context.Context, id models.Identity, in MenuItemInput) (*models.MenuItem, error) {
	if id.Role != models.RoleManager {
		return nil, forbidden()
	}
	item := &models.MenuItem{}
	if err := c.apply(ctx, item, in, false); err != nil {
		return nil, err
	}
	if err := c.store.CreateMenuItem(ctx, item); err != nil {
		return nil, fromStore(err, "create menu item", "Category not found.")
	}
	return item, nil
}

// UpdateMenuItem replaces the item, or patches only the given fields when partial is set.
func (c *Catalog) UpdateMenuItem(ctx context.Context, id models.Identity, itemID string, in MenuItemInput, partial bool) (*models.MenuItem, error) {
	if id.Role != models.RoleManager {
		return nil, forbidden()
	}
	item, err := c.store.MenuItemByID(ctx, itemID)
	if err != nil {
		return nil, fromStore(err, "get menu item", menuItemNotFound)
	}
	if !partial {
		item.Featured = false
	}
	if err := c.apply(ctx, item, in, partial); err != nil {
		return nil, err
	}
	if err := c.store.UpdateMenuItem(ctx, item); err != nil {
		return nil, fromStore(err, "update menu item", menuItemNotFound)
	}
	return item, nil
}

func (c *Catalog) DeleteMenuItem(ctx context.Context, id models.Identity, itemID string) error {
	if id.Role != models.RoleManager {
		return forbidden()
	}
	if err := c.store.DeleteMenuItem(ctx, itemID); err != nil {
		return fromStore(err, "delete menu item", menuItemNotFound)
	}
	return nil
}

// apply validates in and copies it onto item. Prices are rounded to cents.
func (c *Catalog) apply(ctx context.Context, item *models.MenuItem, in MenuItemInput, partial bool) error {
	if !partial && (in.Title == nil || in.Price == nil || in.Category == nil) {
		return badRequest("title, price and category are required.")
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return badRequest("title may not be blank.")
		}
		item.Title = title
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return badRequest("price may not be negative.")
		}
		item.Price = in.Price.Round(2)
	}
	if in.Featured != nil {
		item.Featured = *in.Featured
	}
	if in.Category != nil {
		if _, err := c.store.CategoryByID(ctx, *in.Category); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return badRequest("Invalid category.")
			}
			return fromStore(err, "get category", "")
		}
		item.Category = *in.Category
	}
	return nil
}
