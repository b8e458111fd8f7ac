package services

import (
	"context"
	"strings"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/store"
)

type Groups struct {
	store store.Users
}

func (g *Groups) ListMembers(ctx context.Context, id models.Identity, group string) ([]models.SingleUser, error) {
	if id.Role != models.RoleManager {
		return nil, forbidden()
	}
	members, err := g.store.GroupMembers(ctx, group)
	if err != nil {
		return nil, fromStore(err, "list group members", "")
	}
	out := make([]models.SingleUser, 0, len(members))
	for i := range members {
		out = append(out, members[i].Public())
	}
	return out, nil
}

// AddMember puts username into group. Adding an existing member succeeds without change.
func (g *Groups) AddMember(ctx context.Context, id models.Identity, group, username string) (*models.SingleUser, error) {
	if id.Role != models.RoleManager {
		return nil, forbidden()
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, badRequest("username is required.")
	}
	user, err := g.store.UserByName(ctx, username)
	if err != nil {
		return nil, fromStore(err, "get user", "User not found.")
	}
	if err := g.store.AddToGroup(ctx, user.ID, group); err != nil {
		return nil, fromStore(err, "add to group", "User not found.")
	}
	public := user.Public()
	return &public, nil
}

func (g *Groups) RemoveMember(ctx context.Context, id models.Identity, group, userID string) error {
	if id.Role != models.RoleManager {
		return forbidden()
	}
	if err := g.store.RemoveFromGroup(ctx, userID, group); err != nil {
		return fromStore(err, "remove from group", "User not found.")
	}
	return nil
}
