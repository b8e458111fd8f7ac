package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"go_trial/littlelemon/events"
	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

const orderNotFound = "Order not found."

// Reply messages of the order endpoints.
const (
	MsgOrderCreated        = "Order created"
	MsgOrderUpdated        = "Order updated."
	MsgStatusUpdated       = "Status updated."
	MsgOrderDeleted        = "Order deleted."
	MsgInvalidDeliveryCrew = "Delivery crew id is invalid."
	MsgBadRequest          = "Bad request."
)

// OrderUpdate is the body of PUT/PATCH on a single order. Nil means absent.
type OrderUpdate struct {
	Status     *int
	DeliveryID *string
	// Partial is set for PATCH.
	Partial bool
}

type Orders struct {
	store     store.Store
	publisher events.Publisher
	policy    Policy
	log       *slog.Logger
	now       func() time.Time

	created metric.Int64Counter
	updated metric.Int64Counter
	revenue metric.Float64Counter
}

func newOrders(d Deps) *Orders {
	meter := otel.Meter("littlelemon/services")
	o := &Orders{
		store:     d.Store,
		publisher: d.Publisher,
		policy:    d.Policy,
		log:       d.Logger,
		now:       d.Now,
	}
	// Instrument creation only fails on invalid names; fall back to no-op counters.
	var err error
	if o.created, err = meter.Int64Counter("orders.created", metric.WithDescription("Orders placed from carts")); err != nil {
		o.log.Warn("create metric", logging.Err(err))
	}
	if o.updated, err = meter.Int64Counter("orders.updated", metric.WithDescription("Order status or assignment changes")); err != nil {
		o.log.Warn("create metric", logging.Err(err))
	}
	if o.revenue, err = meter.Float64Counter("orders.revenue", metric.WithDescription("Sum of order totals")); err != nil {
		o.log.Warn("create metric", logging.Err(err))
	}
	return o
}

// List returns every order to a manager, the assigned orders to delivery crew and the
// caller's own orders to a customer.
func (o *Orders) List(ctx context.Context, id models.Identity) (orders []models.Order, err error) {
	ctx, span := startSpan(ctx, "Orders.List")
	defer func() { finish(span, err) }()

	var f models.OrderFilter
	switch id.Role {
	case models.RoleManager:
	case models.RoleDeliveryCrew:
		f.DeliveryCrew = id.UserID
	default:
		f.User = id.UserID
	}
	orders, err = o.store.ListOrders(ctx, f)
	if err != nil {
		return nil, fromStore(err, "list orders", "")
	}
	return orders, nil
}

// Create converts the caller's cart into an order. Only customers may place orders.
// The cart read, the order insert and the cart deletion form one store transaction.
func (o *Orders) Create(ctx context.Context, id models.Identity) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "Orders.Create")
	defer func() { finish(span, err) }()

	if id.Role != models.RoleCustomer {
		return nil, unauthorized()
	}

	date := o.now().UTC()
	build := func(lines []models.Cart) (*models.Order, error) {
		if len(lines) == 0 && o.policy.RejectEmptyCart {
			return nil, badRequest("Cart is empty.")
		}
		return buildOrder(id.UserID, date, lines), nil
	}
	order, err = o.store.Checkout(ctx, id.UserID, build)
	if err != nil {
		return nil, fromStore(err, "checkout", "")
	}

	if o.created != nil {
		o.created.Add(ctx, 1)
	}
	if o.revenue != nil {
		total, _ := order.Total.Float64()
		o.revenue.Add(ctx, total)
	}
	o.publish(ctx, events.OrderCreated, order, id)
	return order, nil
}

// buildOrder copies every cart line into an order item and sums the item prices.
func buildOrder(userID string, date time.Time, lines []models.Cart) *models.Order {
	order := &models.Order{
		User:   userID,
		Status: models.StatusOutForDelivery,
		Total:  decimal.Zero,
		Date:   date,
		Items:  make([]models.OrderItem, 0, len(lines)),
	}
	for _, l := range lines {
		order.Items = append(order.Items, models.OrderItem{
			MenuItem:  l.MenuItem,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Price:     l.Price,
		})
		order.Total = order.Total.Add(l.Price)
	}
	return order
}

func (o *Orders) Get(ctx context.Context, id models.Identity, orderID string) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "Orders.Get")
	defer func() { finish(span, err) }()

	order, err = o.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "get order", orderNotFound)
	}

	switch id.Role {
	case models.RoleCustomer:
		if order.User != id.UserID {
			return nil, forbidden()
		}
	case models.RoleDeliveryCrew:
		if !o.policy.StaffCanViewOrders {
			return nil, unauthorized()
		}
		if !assignedTo(order, id.UserID) {
			return nil, forbidden()
		}
	case models.RoleManager:
		if !o.policy.StaffCanViewOrders {
			return nil, unauthorized()
		}
	}
	return order, nil
}

// Update applies a manager edit (status and/or delivery crew) or a delivery crew status
// PATCH. Every input is validated before the order is written, so a rejected update
// leaves the order unchanged. Only the fields sent are written. It returns the reply
// message for the caller.
func (o *Orders) Update(ctx context.Context, id models.Identity, orderID string, in OrderUpdate) (order *models.Order, msg string, err error) {
	ctx, span := startSpan(ctx, "Orders.Update")
	defer func() { finish(span, err) }()

	switch id.Role {
	case models.RoleManager:
	case models.RoleDeliveryCrew:
		if !in.Partial {
			return nil, "", unauthorized()
		}
	default:
		return nil, "", unauthorized()
	}

	current, err := o.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, "", fromStore(err, "get order", orderNotFound)
	}

	var patch models.OrderPatch
	if id.Role == models.RoleDeliveryCrew {
		if in.Status == nil {
			return nil, "", badRequest(MsgBadRequest)
		}
		if o.policy.DeliveryCrewAssignedOnly && !assignedTo(current, id.UserID) {
			return nil, "", forbidden()
		}
		if patch.Status, err = parseStatus(*in.Status); err != nil {
			return nil, "", err
		}
		msg = MsgStatusUpdated
	} else {
		if in.Status != nil {
			if patch.Status, err = parseStatus(*in.Status); err != nil {
				return nil, "", err
			}
		}
		if in.DeliveryID != nil {
			crew, err := o.store.UserByID(ctx, *in.DeliveryID)
			if err != nil || !crew.InGroup(models.GroupDeliveryCrew) {
				if err != nil && !isNotFound(err) {
					return nil, "", fromStore(err, "get delivery crew", "")
				}
				return nil, "", badRequest(MsgInvalidDeliveryCrew)
			}
			patch.DeliveryCrew = &crew.ID
		}
		msg = MsgOrderUpdated
	}

	order, err = o.store.UpdateOrder(ctx, orderID, patch)
	if err != nil {
		return nil, "", fromStore(err, "update order", orderNotFound)
	}
	if o.updated != nil {
		o.updated.Add(ctx, 1, metric.WithAttributes(attribute.String("role", id.Role.String())))
	}
	o.publish(ctx, events.OrderUpdated, order, id)
	return order, msg, nil
}

func (o *Orders) Delete(ctx context.Context, id models.Identity, orderID string) (err error) {
	ctx, span := startSpan(ctx, "Orders.Delete")
	defer func() { finish(span, err) }()

	if id.Role != models.RoleManager {
		return unauthorized()
	}
	order, err := o.store.OrderByID(ctx, orderID)
	if err != nil {
		return fromStore(err, "get order", orderNotFound)
	}
	if err := o.store.DeleteOrder(ctx, orderID); err != nil {
		return fromStore(err, "delete order", orderNotFound)
	}
	o.publish(ctx, events.OrderDeleted, order, id)
	return nil
}

func parseStatus(status int) (*models.OrderStatus, error) {
	s := models.OrderStatus(status)
	if !s.Valid() {
		return nil, badRequest("status must be 0 or 1.")
	}
	return &s, nil
}

func assignedTo(order *models.Order, userID string) bool {
	return order.DeliveryCrew != nil && *order.DeliveryCrew == userID
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// publish emits an event after the store committed. A failed publish is logged and
// does not fail the request.
func (o *Orders) publish(ctx context.Context, eventType string, order *models.Order, actor models.Identity) {
	if err := o.publisher.Publish(ctx, events.ForOrder(eventType, order, actor.UserID)); err != nil {
		logging.FromContext(ctx, o.log).Warn("order event not published",
			logging.Action("publish_event"),
			slog.String("event", eventType),
			slog.String("order_id", order.ID),
			logging.Err(err))
	}
}
