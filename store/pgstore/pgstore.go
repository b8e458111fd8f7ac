// Package pgstore implements store.Store on PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

//go:embed schema.sql
var schema string

const maxTxAttempts = 5

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a pool for url and pings it.
func Open(ctx context.Context, url string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// serializable runs fn in a SERIALIZABLE transaction, retrying on serialization
// failures and deadlocks. It gives up with store.ErrConflict.
func (s *Store) serializable(ctx context.Context, fn func(pgx.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, opts, fn)
		switch pgCode(err) {
		case codeSerializationFailure, codeDeadlockDetected:
			continue
		}
		return err
	}
	return store.ErrConflict
}

// Users

const selectUser = `
SELECT u.id, u.name, u.email, u.password,
       COALESCE(array_agg(g.group_name) FILTER (WHERE g.group_name IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_groups g ON g.user_id = u.id
WHERE %s
GROUP BY u.id`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Groups); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password) VALUES ($1, $2, $3, $4)`,
		id, u.Name, u.Email, u.PasswordHash)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return store.ErrDuplicate
		}
		return err
	}
	u.ID = id
	return nil
}

func (s *Store) UserByName(ctx context.Context, name string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, fmt.Sprintf(selectUser, "u.name = $1"), name))
}

func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, fmt.Sprintf(selectUser, "u.id = $1"), id))
}

func (s *Store) GroupMembers(ctx context.Context, group string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
SELECT u.id, u.name, u.email
FROM users u
JOIN user_groups g ON g.user_id = u.id
WHERE g.group_name = $1
ORDER BY u.name`, group)
	if err != nil {
		return nil, err
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		u := models.User{Groups: []string{group}}
		err := row.Scan(&u.ID, &u.Name, &u.Email)
		return u, err
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []models.User{}
	}
	return members, nil
}

func (s *Store) userExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddToGroup(ctx context.Context, userID, group string) error {
	if err := s.userExists(ctx, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, group)
	if pgCode(err) == codeForeignKeyViolation {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) RemoveFromGroup(ctx context.Context, userID, group string) error {
	if err := s.userExists(ctx, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_groups WHERE user_id = $1 AND group_name = $2`, userID, group)
	return err
}

// Catalog

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, slug, title FROM categories ORDER BY title`)
	if err != nil {
		return nil, err
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Category, error) {
		var c models.Category
		err := row.Scan(&c.ID, &c.Slug, &c.Title)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []models.Category{}
	}
	return categories, nil
}

func (s *Store) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	err := s.pool.QueryRow(ctx, `SELECT id, slug, title FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Slug, &c.Title)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (id, slug, title) VALUES ($1, $2, $3)`, id, c.Slug, c.Title)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return store.ErrDuplicate
		}
		return err
	}
	c.ID = id
	return nil
}

func scanMenuItem(row pgx.Row) (models.MenuItem, error) {
	var m models.MenuItem
	err := row.Scan(&m.ID, &m.Title, &m.Price, &m.Featured, &m.Category)
	return m, err
}

func (s *Store) ListMenuItems(ctx context.Context, page models.Page) ([]models.MenuItem, error) {
	query := `SELECT id, title, price, featured, category_id FROM menu_items ORDER BY title, id`
	var args []any
	if page.PerPage > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, page.PerPage, page.Skip())
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MenuItem, error) {
		return scanMenuItem(row)
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.MenuItem{}
	}
	return items, nil
}

func (s *Store) MenuItemByID(ctx context.Context, id string) (*models.MenuItem, error) {
	m, err := scanMenuItem(s.pool.QueryRow(ctx,
		`SELECT id, title, price, featured, category_id FROM menu_items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CreateMenuItem(ctx context.Context, m *models.MenuItem) error {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO menu_items (id, title, price, featured, category_id) VALUES ($1, $2, $3, $4, $5)`,
		id, m.Title, m.Price, m.Featured, m.Category)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return store.ErrNotFound
		}
		return err
	}
	m.ID = id
	return nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, m *models.MenuItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE menu_items SET title = $2, price = $3, featured = $4, category_id = $5 WHERE id = $1`,
		m.ID, m.Title, m.Price, m.Featured, m.Category)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return store.ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMenuItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Cart

const selectCartLines = `
SELECT c.id, c.user_id, c.menuitem_id, c.quantity, c.unit_price, c.price,
       m.id, m.title, m.price, m.featured, m.category_id
FROM cart c
JOIN menu_items m ON m.id = c.menuitem_id
WHERE c.user_id = $1
ORDER BY c.id`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func cartLines(ctx context.Context, q querier, query, userID string) ([]models.Cart, error) {
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Cart, error) {
		var (
			c    models.Cart
			item models.MenuItem
		)
		err := row.Scan(&c.ID, &c.User, &c.MenuItem, &c.Quantity, &c.UnitPrice, &c.Price,
			&item.ID, &item.Title, &item.Price, &item.Featured, &item.Category)
		c.Item = &item
		return c, err
	})
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []models.Cart{}
	}
	return lines, nil
}

func (s *Store) CartLines(ctx context.Context, userID string) ([]models.Cart, error) {
	return cartLines(ctx, s.pool, selectCartLines, userID)
}

// AddCartLine relies on the (user_id, menuitem_id) unique constraint. The conflict
// branch recomputes price from the stored unit_price.
func (s *Store) AddCartLine(ctx context.Context, userID string, item *models.MenuItem) (*models.Cart, error) {
	var c models.Cart
	err := s.pool.QueryRow(ctx, `
INSERT INTO cart (id, user_id, menuitem_id, quantity, unit_price, price)
VALUES ($1, $2, $3, 1, $4, $4)
ON CONFLICT (user_id, menuitem_id) DO UPDATE
SET quantity = cart.quantity + 1,
    price = cart.unit_price * (cart.quantity + 1)
RETURNING id, user_id, menuitem_id, quantity, unit_price, price`,
		uuid.NewString(), userID, item.ID, item.Price).
		Scan(&c.ID, &c.User, &c.MenuItem, &c.Quantity, &c.UnitPrice, &c.Price)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}
	return &c, nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart WHERE user_id = $1`, userID)
	return err
}

// Orders

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o      models.Order
		status int
	)
	err := row.Scan(&o.ID, &o.User, &o.DeliveryCrew, &status, &o.Total, &o.Date)
	o.Status = models.OrderStatus(status)
	o.Date = o.Date.UTC()
	o.Items = []models.OrderItem{}
	return o, err
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, order_id, menuitem_id, quantity, unit_price, price
FROM order_items
WHERE order_id = ANY($1)
ORDER BY id`, ids)
	if err != nil {
		return err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OrderItem, error) {
		var it models.OrderItem
		err := row.Scan(&it.ID, &it.Order, &it.MenuItem, &it.Quantity, &it.UnitPrice, &it.Price)
		return it, err
	})
	if err != nil {
		return err
	}
	for _, it := range items {
		o := &orders[index[it.Order]]
		o.Items = append(o.Items, it)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.User != "" {
		args = append(args, f.User)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.DeliveryCrew != "" {
		args = append(args, f.DeliveryCrew)
		where = append(where, fmt.Sprintf("delivery_crew_id = $%d", len(args)))
	}
	query := `SELECT id, user_id, delivery_crew_id, status, total, date FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return orders, nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT id, user_id, delivery_crew_id, status, total, date FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	orders := []models.Order{o}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return &orders[0], nil
}

func (s *Store) Checkout(ctx context.Context, userID string, build store.BuildOrder) (*models.Order, error) {
	var order *models.Order
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		lines, err := cartLines(ctx, tx, selectCartLines+" FOR UPDATE OF c", userID)
		if err != nil {
			return err
		}
		built, err := build(lines)
		if err != nil {
			return err
		}

		built.ID = uuid.NewString()
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, status, total, date) VALUES ($1, $2, $3, $4, $5)`,
			built.ID, built.User, int(built.Status), built.Total, built.Date)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range built.Items {
			it := &built.Items[i]
			it.ID = uuid.NewString()
			it.Order = built.ID
			batch.Queue(`
INSERT INTO order_items (id, order_id, menuitem_id, quantity, unit_price, price)
VALUES ($1, $2, $3, $4, $5, $6)`,
				it.ID, it.Order, it.MenuItem, it.Quantity, it.UnitPrice, it.Price)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}

		lineIDs := make([]string, len(lines))
		for i, l := range lines {
			lineIDs[i] = l.ID
		}
		if len(lineIDs) > 0 {
			tag, err := tx.Exec(ctx, `DELETE FROM cart WHERE id = ANY($1)`, lineIDs)
			if err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
			if tag.RowsAffected() != int64(len(lineIDs)) {
				return store.ErrConflict
			}
		}
		order = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, p models.OrderPatch) (*models.Order, error) {
	var status *int
	if p.Status != nil {
		v := int(*p.Status)
		status = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		    SET status = COALESCE($2::smallint, status),
		        delivery_crew_id = COALESCE($3::text, delivery_crew_id)
		  WHERE id = $1`,
		id, status, p.DeliveryCrew)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.OrderByID(ctx, id)
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
