package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

type Accounts struct {
	store  store.Users
	tokens *Tokens
}

func (a *Accounts) Register(ctx context.Context, username, email, password string) (*models.SingleUser, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, badRequest("Username and password are required.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, badRequest("Password could not be hashed.")
	}
	user := &models.User{Name: username, Email: strings.TrimSpace(email), PasswordHash: string(hash)}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(ErrConflict, "Username is already taken.")
		}
		return nil, fromStore(err, "create user", "")
	}
	public := user.Public()
	return &public, nil
}

// Login checks the credentials and returns a fresh token pair.
func (a *Accounts) Login(ctx context.Context, username, password string) (TokenPair, error) {
	invalid := newError(ErrUnauthorized, "Invalid credentials.")
	user, err := a.store.UserByName(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, invalid
		}
		return TokenPair{}, fromStore(err, "get user", "")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return TokenPair{}, invalid
	}
	return a.tokens.Pair(user.ID, user.Name)
}

// Refresh exchanges a refresh token for a new access token.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := a.tokens.Parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return "", newError(ErrUnauthorized, "Invalid refresh token.")
	}
	user, err := a.store.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", newError(ErrUnauthorized, "Invalid refresh token.")
		}
		return "", fromStore(err, "get user", "")
	}
	return a.tokens.issue(user.ID, user.Name, tokenTypeAccess, a.tokens.accessTTL)
}

// Authenticate turns an access token into the caller's identity, resolving the role
// from the current group memberships.
func (a *Accounts) Authenticate(ctx context.Context, accessToken string) (models.Identity, error) {
	claims, err := a.tokens.Parse(accessToken, tokenTypeAccess)
	if err != nil {
		return models.Identity{}, newError(ErrUnauthorized, "Authentication credentials were not provided or are invalid.")
	}
	user, err := a.store.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Identity{}, newError(ErrUnauthorized, "User no longer exists.")
		}
		return models.Identity{}, fromStore(err, "get user", "")
	}
	return models.NewIdentity(user), nil
}

func (a *Accounts) Me(ctx context.Context, id models.Identity) (*models.SingleUser, error) {
	user, err := a.store.UserByID(ctx, id.UserID)
	if err != nil {
		return nil, fromStore(err, "get user", "User not found.")
	}
	public := user.Public()
	return &public, nil
}
