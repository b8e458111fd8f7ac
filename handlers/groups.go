package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"go_trial/littlelemon/models"
)

type groupMemberRequest struct {
	Username string `json:"username" validate:"required"`
}

// groupRoutes maps the path segment of /api/groups/{group}/users to the stored group name.
var groupRoutes = map[string]string{
	"manager":       models.GroupManager,
	"delivery-crew": models.GroupDeliveryCrew,
}

func groupFrom(r *http.Request) (string, bool) {
	g, ok := groupRoutes[mux.Vars(r)["group"]]
	return g, ok
}

func (h *Handler) GetGroupMembersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	group, ok := groupFrom(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Group not found.")
		return
	}
	members, err := h.svc.Groups.ListMembers(r.Context(), id, group)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) AssignGroupHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	group, ok := groupFrom(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Group not found.")
		return
	}
	var req groupMemberRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	user, err := h.svc.Groups.AddMember(r.Context(), id, group, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) RemoveGroupMemberHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	group, ok := groupFrom(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Group not found.")
		return
	}
	if err := h.svc.Groups.RemoveMember(r.Context(), id, group, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User removed from group.")
}
