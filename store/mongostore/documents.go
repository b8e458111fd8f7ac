package mongostore

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password"`
}

type groupDoc struct {
	ID    primitive.ObjectID `bson:"_id,omitempty"`
	User  primitive.ObjectID `bson:"user"`
	Group string             `bson:"group"`
}

type categoryDoc struct {
	ID    primitive.ObjectID `bson:"_id,omitempty"`
	Slug  string             `bson:"slug"`
	Title string             `bson:"title"`
}

type menuItemDoc struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty"`
	Title    string               `bson:"title"`
	Price    primitive.Decimal128 `bson:"price"`
	Featured bool                 `bson:"featured"`
	Category primitive.ObjectID   `bson:"category"`
}

type cartDoc struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	User      primitive.ObjectID   `bson:"user"`
	MenuItem  primitive.ObjectID   `bson:"menuitem"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Price     primitive.Decimal128 `bson:"price"`
	Item      *menuItemDoc         `bson:"item,omitempty"`
}

type orderDoc struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	User         primitive.ObjectID   `bson:"user"`
	DeliveryCrew *primitive.ObjectID  `bson:"delivery_crew,omitempty"`
	Status       int                  `bson:"status"`
	Total        primitive.Decimal128 `bson:"total"`
	Date         time.Time            `bson:"date"`
	Items        []orderItemDoc       `bson:"items,omitempty"`
}

type orderItemDoc struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	Order     primitive.ObjectID   `bson:"order"`
	MenuItem  primitive.ObjectID   `bson:"menuitem"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Price     primitive.Decimal128 `bson:"price"`
}

// objectID parses a hex id; malformed ids cannot exist, so they read as not found.
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, store.ErrNotFound
	}
	return oid, nil
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (d *userDoc) model(groups []string) *models.User {
	return &models.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Groups:       groups,
	}
}

func (d *categoryDoc) model() models.Category {
	return models.Category{ID: d.ID.Hex(), Slug: d.Slug, Title: d.Title}
}

func (d *menuItemDoc) model() models.MenuItem {
	return models.MenuItem{
		ID:       d.ID.Hex(),
		Title:    d.Title,
		Price:    fromDecimal128(d.Price),
		Featured: d.Featured,
		Category: d.Category.Hex(),
	}
}

func menuItemFromModel(m *models.MenuItem) (menuItemDoc, error) {
	category, err := primitive.ObjectIDFromHex(m.Category)
	if err != nil {
		return menuItemDoc{}, store.ErrNotFound
	}
	return menuItemDoc{
		Title:    m.Title,
		Price:    toDecimal128(m.Price),
		Featured: m.Featured,
		Category: category,
	}, nil
}

func (d *cartDoc) model() models.Cart {
	c := models.Cart{
		ID:        d.ID.Hex(),
		User:      d.User.Hex(),
		MenuItem:  d.MenuItem.Hex(),
		Quantity:  d.Quantity,
		UnitPrice: fromDecimal128(d.UnitPrice),
		Price:     fromDecimal128(d.Price),
	}
	if d.Item != nil {
		item := d.Item.model()
		c.Item = &item
	}
	return c
}

func (d *orderDoc) model() models.Order {
	o := models.Order{
		ID:     d.ID.Hex(),
		User:   d.User.Hex(),
		Status: models.OrderStatus(d.Status),
		Total:  fromDecimal128(d.Total),
		Date:   d.Date.UTC(),
		Items:  make([]models.OrderItem, 0, len(d.Items)),
	}
	if d.DeliveryCrew != nil {
		crew := d.DeliveryCrew.Hex()
		o.DeliveryCrew = &crew
	}
	for _, it := range d.Items {
		o.Items = append(o.Items, models.OrderItem{
			ID:        it.ID.Hex(),
			Order:     it.Order.Hex(),
			MenuItem:  it.MenuItem.Hex(),
			Quantity:  it.Quantity,
			UnitPrice: fromDecimal128(it.UnitPrice),
			Price:     fromDecimal128(it.Price),
		})
	}
	return o
}
