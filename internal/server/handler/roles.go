package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/auth"
)

// RoleHandler manages role grants.
type RoleHandler struct {
	roles *auth.RoleTable
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(roles *auth.RoleTable) *RoleHandler {
	return &RoleHandler{roles: roles}
}

type roleRequest struct {
	Role string `json:"role"`
}

// Get lists the roles of an address.
// GET /api/roles/{address}
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	who, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	h.write(w, who)
}

// Grant gives a role to an address.
// POST /api/roles/{address}
func (h *RoleHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.roles.Grant)
}

// Revoke removes a role from an address.
// DELETE /api/roles/{address}
func (h *RoleHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.roles.Revoke)
}

func (h *RoleHandler) change(w http.ResponseWriter, r *http.Request, apply func(caller, who common.Address, role auth.Role) error) {
	actor, ok := caller(w, r)
	if !ok {
		return
	}
	who, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := apply(actor, who, role); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	h.write(w, who)
}

func (h *RoleHandler) write(w http.ResponseWriter, who common.Address) {
	roles := h.roles.Roles(who)
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": who.Hex(), "roles": roles})
}
