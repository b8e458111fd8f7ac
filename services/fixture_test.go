package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"go_trial/littlelemon/events"
	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store/memstore"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctx   context.Context
	store *memstore.Store
	svc   *Services
	pub   *recordingPublisher

	manager  models.Identity
	crew     models.Identity
	customer models.Identity
	other    models.Identity

	category models.Category
	item     models.MenuItem
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memstore.New(),
		pub:   &recordingPublisher{},
	}
	f.svc = New(Deps{
		Store:     f.store,
		Publisher: f.pub,
		Policy:    policy,
		Tokens:    NewTokens("test-secret", time.Hour, 24*time.Hour),
		Now:       func() time.Time { return fixedNow },
	})

	f.manager = f.user(t, "mario", models.GroupManager)
	f.crew = f.user(t, "luigi", models.GroupDeliveryCrew)
	f.customer = f.user(t, "peach")
	f.other = f.user(t, "toad")

	f.category = models.Category{Slug: "mains", Title: "Mains"}
	require.NoError(t, f.store.CreateCategory(f.ctx, &f.category))
	f.item = f.menuItem(t, "Greek salad", "10.00")
	return f
}

func (f *fixture) user(t *testing.T, name string, groups ...string) models.Identity {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@littlelemon.test", PasswordHash: "x"}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	for _, g := range groups {
		require.NoError(t, f.store.AddToGroup(f.ctx, u.ID, g))
	}
	loaded, err := f.store.UserByID(f.ctx, u.ID)
	require.NoError(t, err)
	return models.NewIdentity(loaded)
}

func (f *fixture) menuItem(t *testing.T, title, price string) models.MenuItem {
	t.Helper()
	m := models.MenuItem{Title: title, Price: decimal.RequireFromString(price), Category: f.category.ID}
	require.NoError(t, f.store.CreateMenuItem(f.ctx, &m))
	return m
}

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decFromInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }
