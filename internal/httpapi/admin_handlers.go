package httpapi

import (
	"net/http"
	"strings"

	"flowsite.io/internal/audit"
	"flowsite.io/internal/auth"
)

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAdmin(w http.ResponseWriter, r *http.Request) {
	r, user, ok := a.guard(w, r, a.resolver(r).RequireAdmin(r.Context()))
	if !ok {
		return
	}
	profiles, err := a.service.List(r.Context())
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	counts := make(map[auth.Role]int, len(auth.Roles))
	for _, role := range auth.Roles {
		counts[role] = 0
	}
	for _, p := range profiles {
		counts[p.Role]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"total_users":   len(profiles),
		"users_by_role": counts,
	})
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	r, _, ok := a.guard(w, r, a.resolver(r).RequireAdmin(r.Context()))
	if !ok {
		return
	}
	profiles, err := a.service.List(r.Context())
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []auth.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": profiles})
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	r, actor, ok := a.guard(w, r, a.resolver(r).RequireAdmin(r.Context()))
	if !ok {
		return
	}
	userID := strings.TrimSpace(r.PathValue("id"))
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	before, err := a.service.Get(r.Context(), userID)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	p, err := a.service.SetRole(r.Context(), actor, userID, req.Role)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	ev := a.requestEvent(r, audit.ActionRoleChanged)
	ev.UserID, ev.Email = actor.ID, actor.Email
	ev.ResourceType, ev.ResourceID = "profile", userID
	ev.Metadata = map[string]any{"from": string(before.Role), "to": string(p.Role)}
	a.logAudit(r, ev)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	r, _, ok := a.guard(w, r, a.resolver(r).RequireAdmin(r.Context()))
	if !ok {
		return
	}
	if a.auditLog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.auditLog.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}
