package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_trial/littlelemon/models"
)

func TestRegisterLoginAuthenticate(t *testing.T) {
	f := newFixture(t, Policy{})

	user, err := f.svc.Accounts.Register(f.ctx, "daisy", "daisy@littlelemon.test", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, "daisy", user.Name)

	pair, err := f.svc.Accounts.Login(f.ctx, "daisy", "s3cret!")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	id, err := f.svc.Accounts.Authenticate(f.ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, models.RoleCustomer, id.Role)

	me, err := f.svc.Accounts.Me(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "daisy@littlelemon.test", me.Email)
}

func TestAuthenticateResolvesCurrentRole(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.Accounts.Register(f.ctx, "daisy", "", "pw")
	require.NoError(t, err)
	pair, err := f.svc.Accounts.Login(f.ctx, "daisy", "pw")
	require.NoError(t, err)

	_, err = f.svc.Groups.AddMember(f.ctx, f.manager, models.GroupDeliveryCrew, "daisy")
	require.NoError(t, err)

	id, err := f.svc.Accounts.Authenticate(f.ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDeliveryCrew, id.Role)
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t, Policy{})

	_, err := f.svc.Accounts.Register(f.ctx, "peach", "", "pw")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Accounts.Register(f.ctx, "", "", "pw")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.Accounts.Register(f.ctx, "daisy", "", "right")
	require.NoError(t, err)

	_, err = f.svc.Accounts.Login(f.ctx, "daisy", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Accounts.Login(f.ctx, "nobody", "right")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.Accounts.Register(f.ctx, "daisy", "", "pw")
	require.NoError(t, err)
	pair, err := f.svc.Accounts.Login(f.ctx, "daisy", "pw")
	require.NoError(t, err)

	access, err := f.svc.Accounts.Refresh(f.ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Accounts.Authenticate(f.ctx, access)
	assert.NoError(t, err)

	_, err = f.svc.Accounts.Refresh(f.ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized, "access token cannot refresh")

	_, err = f.svc.Accounts.Authenticate(f.ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized, "refresh token cannot authenticate")
}

func TestTokensRejectForgedAndExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute, time.Hour)
	pair, err := tokens.Pair("user-1", "daisy")
	require.NoError(t, err)

	claims, err := tokens.Parse(pair.AccessToken, tokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "daisy", claims.Username)

	_, err = NewTokens("other", time.Minute, time.Hour).Parse(pair.AccessToken, tokenTypeAccess)
	assert.Error(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Parse(pair.AccessToken, tokenTypeAccess)
	assert.Error(t, err)

	_, err = tokens.Parse("not-a-jwt", tokenTypeAccess)
	assert.Error(t, err)
}
