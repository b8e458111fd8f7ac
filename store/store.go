// Package store defines the persistence contract shared by the memory, MongoDB and
// PostgreSQL backends.
package store

import (
	"context"
	"errors"

	"go_trial/littlelemon/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrConflict is returned when a transaction keeps losing to concurrent writers.
	ErrConflict = errors.New("store: transaction conflict")
)

// BuildOrder turns the cart lines read inside a checkout transaction into the order to
// persist. Returning an error aborts the checkout and leaves the cart untouched.
type BuildOrder func(lines []models.Cart) (*models.Order, error)

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByName(ctx context.Context, name string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	GroupMembers(ctx context.Context, group string) ([]models.User, error)
	// AddToGroup is a no-op when the user is already a member.
	AddToGroup(ctx context.Context, userID, group string) error
	RemoveFromGroup(ctx context.Context, userID, group string) error
}

type Catalog interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	CategoryByID(ctx context.Context, id string) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	ListMenuItems(ctx context.Context, page models.Page) ([]models.MenuItem, error)
	MenuItemByID(ctx context.Context, id string) (*models.MenuItem, error)
	CreateMenuItem(ctx context.Context, m *models.MenuItem) error
	UpdateMenuItem(ctx context.Context, m *models.MenuItem) error
	DeleteMenuItem(ctx context.Context, id string) error
}

type Carts interface {
	// CartLines returns the user's lines with the menu item detail embedded.
	CartLines(ctx context.Context, userID string) ([]models.Cart, error)
	// AddCartLine atomically creates the (user, item) line at quantity 1 or increments
	// the existing one by its frozen unit price.
	AddCartLine(ctx context.Context, userID string, item *models.MenuItem) (*models.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type Orders interface {
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	OrderByID(ctx context.Context, id string) (*models.Order, error)
	// Checkout reads the user's cart, persists the order produced by build and deletes
	// exactly the lines that were read, all in one transaction.
	Checkout(ctx context.Context, userID string, build BuildOrder) (*models.Order, error)
	// UpdateOrder writes only the fields set in p and returns the stored order.
	UpdateOrder(ctx context.Context, id string, p models.OrderPatch) (*models.Order, error)
	DeleteOrder(ctx context.Context, id string) error
}

type Store interface {
	Users
	Catalog
	Carts
	Orders
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
