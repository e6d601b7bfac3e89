package httpapi

import (
	"errors"
	"net/http"

	"flowsite.io/internal/audit"
	"flowsite.io/internal/auth"
	"flowsite.io/internal/validate"
)

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, user, ok := a.guard(w, r, a.resolver(r).RequireAuth(r.Context()))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"is_admin": user.Role == auth.RoleAdmin,
	})
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	r, user, ok := a.guard(w, r, a.resolver(r).RequireAuth(r.Context()))
	if !ok {
		return
	}
	p, err := a.service.Get(r.Context(), user.ID)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	r, user, ok := a.guard(w, r, a.resolver(r).RequireAuth(r.Context()))
	if !ok {
		return
	}
	var req validate.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.service.UpdateOwn(r.Context(), user.ID, req)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	ev := a.requestEvent(r, audit.ActionProfileUpdated)
	ev.UserID, ev.Email = user.ID, user.Email
	ev.ResourceType, ev.ResourceID = "profile", user.ID
	a.logAudit(r, ev)
	writeJSON(w, http.StatusOK, p)
}

func handleProfileError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, r, verr.Result.Fields())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidRole):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "profile operation failed")
	}
}
