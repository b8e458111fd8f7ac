// Package mongostore implements store.Store on MongoDB. Checkout and order deletion run in
// multi-document transactions, so the server must be a replica set member.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
	"go_trial/littlelemon/utils"
)

const (
	usersCollection      = "users"
	groupsCollection     = "UserGroup"
	categoriesCollection = "categories"
	menuItemsCollection  = "menuitems"
	cartCollection       = "cart"
	ordersCollection     = "orders"
	orderItemsCollection = "orderitems"
)

type Store struct {
	client *mongo.Client

	Users      *mongo.Collection
	UserGroup  *mongo.Collection
	Categories *mongo.Collection
	MenuItems  *mongo.Collection
	Cart       *mongo.Collection
	Orders     *mongo.Collection
	OrderItems *mongo.Collection
}

var _ store.Store = (*Store)(nil)

func New(client *mongo.Client, dbName string) *Store {
	return &Store{
		client:     client,
		Users:      utils.GetCollection(client, dbName, usersCollection),
		UserGroup:  utils.GetCollection(client, dbName, groupsCollection),
		Categories: utils.GetCollection(client, dbName, categoriesCollection),
		MenuItems:  utils.GetCollection(client, dbName, menuItemsCollection),
		Cart:       utils.GetCollection(client, dbName, cartCollection),
		Orders:     utils.GetCollection(client, dbName, ordersCollection),
		OrderItems: utils.GetCollection(client, dbName, orderItemsCollection),
	}
}

// Open connects to uri and returns a store over dbName.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := utils.InitMongoClient(ctx, uri)
	if err != nil {
		return nil, err
	}
	return New(client, dbName), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.Users, []mongo.IndexModel{{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique}}},
		{s.UserGroup, []mongo.IndexModel{{Keys: bson.D{{Key: "user", Value: 1}, {Key: "group", Value: 1}}, Options: unique}}},
		{s.Categories, []mongo.IndexModel{{Keys: bson.D{{Key: "slug", Value: 1}}, Options: unique}}},
		{s.Cart, []mongo.IndexModel{{Keys: bson.D{{Key: "user", Value: 1}, {Key: "menuitem", Value: 1}}, Options: unique}}},
		{s.Orders, []mongo.IndexModel{{Keys: bson.D{{Key: "user", Value: 1}}}, {Keys: bson.D{{Key: "delivery_crew", Value: 1}}}}},
		{s.OrderItems, []mongo.IndexModel{{Keys: bson.D{{Key: "order", Value: 1}}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(sc mongo.SessionContext) (interface{}, error)) (interface{}, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	return sess.WithTransaction(ctx, fn, txOpts)
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// Users

func (s *Store) groupsOf(ctx context.Context, uid primitive.ObjectID) ([]string, error) {
	cursor, err := s.UserGroup.Find(ctx, bson.M{"user": uid})
	if err != nil {
		return nil, err
	}
	var docs []groupDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(docs))
	for _, d := range docs {
		groups = append(groups, d.Group)
	}
	return groups, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := s.Users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	groups, err := s.groupsOf(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	return doc.model(groups), nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.Users.FindOne(ctx, bson.M{"name": u.Name}).Err()
	if err == nil {
		return store.ErrDuplicate
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	doc := userDoc{ID: primitive.NewObjectID(), Name: u.Name, Email: u.Email, PasswordHash: u.PasswordHash}
	if _, err := s.Users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return err
	}
	u.ID = doc.ID.Hex()
	return nil
}

func (s *Store) UserByName(ctx context.Context, name string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"name": name})
}

func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	uid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": uid})
}

func (s *Store) GroupMembers(ctx context.Context, group string) ([]models.User, error) {
	cursor, err := s.UserGroup.Find(ctx, bson.M{"group": group})
	if err != nil {
		return nil, err
	}
	var memberships []groupDoc
	if err := cursor.All(ctx, &memberships); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.User)
	}

	members := []models.User{}
	if len(ids) == 0 {
		return members, nil
	}
	cursor, err = s.Users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		members = append(members, *d.model([]string{group}))
	}
	return members, nil
}

func (s *Store) userExists(ctx context.Context, id string) (primitive.ObjectID, error) {
	uid, err := objectID(id)
	if err != nil {
		return uid, err
	}
	if err := s.Users.FindOne(ctx, bson.M{"_id": uid}).Err(); err != nil {
		return uid, notFound(err)
	}
	return uid, nil
}

func (s *Store) AddToGroup(ctx context.Context, userID, group string) error {
	uid, err := s.userExists(ctx, userID)
	if err != nil {
		return err
	}
	filter := bson.M{"user": uid, "group": group}
	_, err = s.UserGroup.UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": filter},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *Store) RemoveFromGroup(ctx context.Context, userID, group string) error {
	uid, err := s.userExists(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.UserGroup.DeleteOne(ctx, bson.M{"user": uid, "group": group})
	return err
}

// Catalog

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	cursor, err := s.Categories.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var docs []categoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	categories := make([]models.Category, 0, len(docs))
	for _, d := range docs {
		categories = append(categories, d.model())
	}
	return categories, nil
}

func (s *Store) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc categoryDoc
	if err := s.Categories.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	c := doc.model()
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	doc := categoryDoc{ID: primitive.NewObjectID(), Slug: c.Slug, Title: c.Title}
	if _, err := s.Categories.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return err
	}
	c.ID = doc.ID.Hex()
	return nil
}

func (s *Store) ListMenuItems(ctx context.Context, page models.Page) ([]models.MenuItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if page.PerPage > 0 {
		opts.SetSkip(int64(page.Skip())).SetLimit(int64(page.PerPage))
	}
	cursor, err := s.MenuItems.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []menuItemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]models.MenuItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, nil
}

func (s *Store) MenuItemByID(ctx context.Context, id string) (*models.MenuItem, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc menuItemDoc
	if err := s.MenuItems.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	m := doc.model()
	return &m, nil
}

func (s *Store) CreateMenuItem(ctx context.Context, m *models.MenuItem) error {
	doc, err := menuItemFromModel(m)
	if err != nil {
		return err
	}
	doc.ID = primitive.NewObjectID()
	if _, err := s.MenuItems.InsertOne(ctx, doc); err != nil {
		return err
	}
	m.ID = doc.ID.Hex()
	return nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, m *models.MenuItem) error {
	oid, err := objectID(m.ID)
	if err != nil {
		return err
	}
	doc, err := menuItemFromModel(m)
	if err != nil {
		return err
	}
	doc.ID = oid
	res, err := s.MenuItems.ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMenuItem(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	// Cart lines go with the item so a later checkout cannot order it.
	_, err = s.inTx(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.MenuItems.DeleteOne(sc, bson.M{"_id": oid})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, store.ErrNotFound
		}
		if _, err := s.Cart.DeleteMany(sc, bson.M{"menuitem": oid}); err != nil {
			return nil, fmt.Errorf("delete cart lines: %w", err)
		}
		return nil, nil
	})
	return err
}

// Cart

func (s *Store) cartDocs(ctx context.Context, uid primitive.ObjectID) ([]cartDoc, error) {
	cursor, err := s.Cart.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": uid}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: menuItemsCollection},
			{Key: "localField", Value: "menuitem"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "item"},
		}}},
		{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$item"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var docs []cartDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) CartLines(ctx context.Context, userID string) ([]models.Cart, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.cartDocs(ctx, uid)
	if err != nil {
		return nil, err
	}
	lines := make([]models.Cart, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, d.model())
	}
	return lines, nil
}

// AddCartLine upserts on the unique (user, menuitem) index. The pipeline keeps an
// existing unit_price and recomputes price from it, so a later catalog price change
// never leaks into the line.
func (s *Store) AddCartLine(ctx context.Context, userID string, item *models.MenuItem) (*models.Cart, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	mid, err := objectID(item.ID)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"user": uid, "menuitem": mid}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "unit_price", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$unit_price", toDecimal128(item.Price)}}}},
			{Key: "quantity", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$quantity", 0}}}, 1,
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "price", Value: bson.D{{Key: "$multiply", Value: bson.A{"$unit_price", "$quantity"}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc cartDoc
	err = s.Cart.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the insert race; the line exists now, so the retry takes the update path.
		err = s.Cart.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}
	line := doc.model()
	return &line, nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	uid, err := objectID(userID)
	if err != nil {
		return nil
	}
	_, err = s.Cart.DeleteMany(ctx, bson.M{"user": uid})
	return err
}

// Orders

func (s *Store) orderDocs(ctx context.Context, match bson.M) ([]orderDoc, error) {
	cursor, err := s.Orders.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: orderItemsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "order"},
			{Key: "as", Value: "items"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "date", Value: 1}}}},
	})
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	match := bson.M{}
	if f.User != "" {
		uid, err := objectID(f.User)
		if err != nil {
			return []models.Order{}, nil
		}
		match["user"] = uid
	}
	if f.DeliveryCrew != "" {
		crew, err := objectID(f.DeliveryCrew)
		if err != nil {
			return []models.Order{}, nil
		}
		match["delivery_crew"] = crew
	}
	docs, err := s.orderDocs(ctx, match)
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, d.model())
	}
	return orders, nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	docs, err := s.orderDocs(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	o := docs[0].model()
	return &o, nil
}

func (s *Store) Checkout(ctx context.Context, userID string, build store.BuildOrder) (*models.Order, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}

	result, err := s.inTx(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		docs, err := s.cartDocs(sc, uid)
		if err != nil {
			return nil, err
		}
		lines := make([]models.Cart, 0, len(docs))
		lineIDs := make([]primitive.ObjectID, 0, len(docs))
		for _, d := range docs {
			lines = append(lines, d.model())
			lineIDs = append(lineIDs, d.ID)
		}

		order, err := build(lines)
		if err != nil {
			return nil, err
		}

		orderID := primitive.NewObjectID()
		_, err = s.Orders.InsertOne(sc, orderDoc{
			ID:     orderID,
			User:   uid,
			Status: int(order.Status),
			Total:  toDecimal128(order.Total),
			Date:   order.Date,
		})
		if err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}

		items := make([]interface{}, 0, len(order.Items))
		for i := range order.Items {
			it := &order.Items[i]
			menuItem, err := objectID(it.MenuItem)
			if err != nil {
				return nil, err
			}
			itemID := primitive.NewObjectID()
			items = append(items, orderItemDoc{
				ID:        itemID,
				Order:     orderID,
				MenuItem:  menuItem,
				Quantity:  it.Quantity,
				UnitPrice: toDecimal128(it.UnitPrice),
				Price:     toDecimal128(it.Price),
			})
			it.ID = itemID.Hex()
			it.Order = orderID.Hex()
		}
		if len(items) > 0 {
			if _, err := s.OrderItems.InsertMany(sc, items); err != nil {
				return nil, fmt.Errorf("insert order items: %w", err)
			}
		}

		if len(lineIDs) > 0 {
			res, err := s.Cart.DeleteMany(sc, bson.M{"_id": bson.M{"$in": lineIDs}})
			if err != nil {
				return nil, fmt.Errorf("clear cart: %w", err)
			}
			if res.DeletedCount != int64(len(lineIDs)) {
				return nil, store.ErrConflict
			}
		}

		order.ID = orderID.Hex()
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Order), nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, p models.OrderPatch) (*models.Order, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{}
	if p.Status != nil {
		set["status"] = int(*p.Status)
	}
	if p.DeliveryCrew != nil {
		crew, err := objectID(*p.DeliveryCrew)
		if err != nil {
			return nil, err
		}
		set["delivery_crew"] = crew
	}
	if len(set) > 0 {
		res, err := s.Orders.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, store.ErrNotFound
		}
	}
	return s.OrderByID(ctx, id)
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	_, err = s.inTx(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.Orders.DeleteOne(sc, bson.M{"_id": oid})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, store.ErrNotFound
		}
		_, err = s.OrderItems.DeleteMany(sc, bson.M{"order": oid})
		return nil, err
	})
	return err
}
