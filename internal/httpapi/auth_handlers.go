package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"flowsite.io/internal/audit"
	"flowsite.io/internal/auth"
	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
	"flowsite.io/internal/validate"
)

const (
	msgLocked       = "Too many failed sign-in attempts. Please try again later."
	msgResetSent    = "If an account exists for that email, a reset link has been sent."
	msgConfirm      = "Check your email to confirm your account."
	msgUnavailable  = "Authentication service unavailable"
	msgResetExpired = "Your reset link has expired. Please request a new one."
)

type signInRequest struct {
	validate.SignInInput
	RedirectTo string `json:"redirectTo,omitempty"`
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return
	}
	res := auth.NewGateway(s.client).CompleteCallback(r.Context(), r.URL.Query())
	s.forget()

	ev := a.requestEvent(r, audit.ActionCallbackSucceeded)
	ev.Metadata = map[string]any{"method": string(res.Method)}
	if res.OK() {
		ev.UserID, ev.Email = res.Session.User.ID, res.Session.User.Email
	} else {
		ev.Action = audit.ActionCallbackFailed
		ev.Error = res.Message
	}
	a.logAudit(r, ev)

	redirect(w, r, res.Location)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, res := validate.SignIn(req.SignInInput)
	if !res.OK() {
		writeValidation(w, r, res.Fields())
		return
	}

	// Fails open when the audit store is down; see CheckAccountLockout.
	ip := clientIP(r)
	if a.tracker.CheckAccountLockout(r.Context(), in.Email, ip) {
		ev := a.requestEvent(r, audit.ActionAccountLocked)
		ev.Email = in.Email
		ev.Error = "lockout threshold reached"
		a.logAudit(r, ev)
		writeError(w, r, http.StatusTooManyRequests, msgLocked)
		return
	}

	sess, err := s.client.SignInWithPassword(r.Context(), in.Email, in.Password)
	s.forget()
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			obs.Error("signin_provider_unavailable", map[string]any{"err": err, "request_id": RequestIDFromContext(r.Context())})
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
			return
		}
		// Same contract as logAudit: a failed write only weakens lockout.
		_ = a.tracker.LogFailedLogin(r.Context(), in.Email, ip, r.UserAgent())
		ev := a.requestEvent(r, audit.ActionSignInFailed)
		ev.Email = in.Email
		ev.Error = errorMessage(err, "Invalid login credentials")
		a.logAudit(r, ev)
		writeError(w, r, http.StatusUnauthorized, ev.Error)
		return
	}

	if a.service != nil && sess.User.ID != "" {
		if _, err := a.service.CreateForSignup(r.Context(), sess.User.ID, "", nil); err != nil {
			obs.Warn("signin_profile_ensure_failed", map[string]any{"user_id": sess.User.ID, "err": err})
		}
	}
	ev := a.requestEvent(r, audit.ActionSignIn)
	ev.UserID, ev.Email = sess.User.ID, in.Email
	a.logAudit(r, ev)
	redirect(w, r, auth.SafeNext(req.RedirectTo, a.landing))
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return
	}
	var req validate.SignUpInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, res := validate.SignUp(req)
	if !res.OK() {
		writeValidation(w, r, res.Fields())
		return
	}

	meta := map[string]any{"full_name": in.FullName}
	if in.Company != nil {
		meta["company"] = *in.Company
	}
	user, err := s.client.SignUp(r.Context(), in.Email, in.Password, meta)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserExists):
			writeError(w, r, http.StatusConflict, errorMessage(err, "User already registered"))
		case errors.Is(err, identity.ErrUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		default:
			writeError(w, r, http.StatusBadRequest, errorMessage(err, "Sign up failed"))
		}
		return
	}

	if a.service != nil {
		if _, err := a.service.CreateForSignup(r.Context(), user.ID, in.FullName, in.Company); err != nil {
			obs.Error("signup_profile_create_failed", map[string]any{"user_id": user.ID, "err": err})
		}
	}
	ev := a.requestEvent(r, audit.ActionSignUp)
	ev.UserID, ev.Email = user.ID, user.Email
	a.logAudit(r, ev)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user,
		"message": msgConfirm,
	})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return
	}
	ev := a.requestEvent(r, audit.ActionSignOut)
	if u, err := s.User(r.Context()); err == nil {
		ev.UserID, ev.Email = u.ID, u.Email
	}
	if err := s.client.SignOut(r.Context()); err != nil {
		obs.Warn("signout_revoke_failed", map[string]any{"err": err, "request_id": RequestIDFromContext(r.Context())})
		ev.Error = err.Error()
	}
	s.forget()
	a.logAudit(r, ev)
	redirect(w, r, "/")
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return
	}
	var req validate.ForgotPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, res := validate.ForgotPassword(req)
	if !res.OK() {
		writeValidation(w, r, res.Fields())
		return
	}

	redirectTo := a.siteURL + "/auth/callback?" + url.Values{"next": {auth.DefaultCallbackNext}}.Encode()
	ev := a.requestEvent(r, audit.ActionResetRequested)
	ev.Email = in.Email
	if err := s.client.RequestPasswordReset(r.Context(), in.Email, redirectTo); err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
			return
		}
		// Unknown emails answer the same as known ones.
		ev.Error = err.Error()
	}
	a.logAudit(r, ev)
	writeJSON(w, http.StatusOK, map[string]any{"message": msgResetSent})
}

// recoverySession returns the request state when the caller holds a
// session, as it does after a recovery callback. Otherwise the expired-link
// redirect has been written.
func (a *API) recoverySession(w http.ResponseWriter, r *http.Request) (*requestState, identity.User, bool) {
	s, ok := a.state(r)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "session unavailable")
		return nil, identity.User{}, false
	}
	u, err := s.User(r.Context())
	if err != nil {
		redirect(w, r, auth.SignInPath+"?"+url.Values{"error": {msgResetExpired}}.Encode())
		return nil, identity.User{}, false
	}
	return s, u, true
}

// handleResetPasswordForm is where a recovery callback lands. It describes
// the form that POST /auth/reset-password accepts.
func (a *API) handleResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	_, u, ok := a.recoverySession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":  u.Email,
		"action": "/auth/reset-password",
		"fields": []string{"password", "confirmPassword"},
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	s, _, ok := a.recoverySession(w, r)
	if !ok {
		return
	}
	var req validate.ResetPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, res := validate.ResetPassword(req)
	if !res.OK() {
		writeValidation(w, r, res.Fields())
		return
	}
	user, err := s.client.UpdatePassword(r.Context(), in.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
			return
		}
		writeError(w, r, http.StatusBadRequest, errorMessage(err, "Password update failed"))
		return
	}
	ev := a.requestEvent(r, audit.ActionPasswordReset)
	ev.UserID, ev.Email = user.ID, user.Email
	a.logAudit(r, ev)
	redirect(w, r, a.landing)
}

// errorMessage prefers the provider's human readable message.
func errorMessage(err error, fallback string) string {
	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return fallback
}
