// Package services holds the role-gated business rules of the ordering API. Every
// operation takes the caller's models.Identity, whose role was resolved once when the
// request was authenticated.
package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go_trial/littlelemon/events"
	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/store"
)

var tracer = otel.Tracer("littlelemon/services")

// Policy toggles the behaviours whose product decision is still open. The zero value
// keeps the historical behaviour.
type Policy struct {
	// StaffCanViewOrders lets managers read any single order and delivery crew read the
	// orders assigned to them. Otherwise both get Unauthorized.
	StaffCanViewOrders bool `yaml:"staff_can_view_orders"`
	// DeliveryCrewAssignedOnly restricts delivery crew status updates to their own orders.
	DeliveryCrewAssignedOnly bool `yaml:"delivery_crew_assigned_only"`
	// ManagerOnlyCategories gates category creation like menu item writes.
	ManagerOnlyCategories bool `yaml:"manager_only_categories"`
	// RejectEmptyCart refuses to place an order from an empty cart.
	RejectEmptyCart bool `yaml:"reject_empty_cart"`
}

type Deps struct {
	Store     store.Store
	Publisher events.Publisher
	Policy    Policy
	Tokens    *Tokens
	Logger    *slog.Logger
	// Now stamps new orders; defaults to time.Now.
	Now func() time.Time
}

type Services struct {
	Accounts *Accounts
	Catalog  *Catalog
	Groups   *Groups
	Carts    *Carts
	Orders   *Orders
}

func New(d Deps) *Services {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Services{
		Accounts: &Accounts{store: d.Store, tokens: d.Tokens},
		Catalog:  &Catalog{store: d.Store, policy: d.Policy},
		Groups:   &Groups{store: d.Store},
		Carts:    &Carts{store: d.Store},
		Orders:   newOrders(d),
	}
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
