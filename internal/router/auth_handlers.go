package router

import (
	"net/http"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/registry"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Username  string        `json:"username"`
	Role      registry.Role `json:"role"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFault(w, r, err)
		return
	}
	role, err := registry.ParseRole(req.Role)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	summary, err := a.registry.Register(req.Username, req.Password, role)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	a.auditlog.Append(r.Context(), audit.ActionRegister, summary.Username,
		"registered with role "+string(summary.Role), a.lock.Status().LockValue)

	token, expires, err := a.sessions.Issue(summary.Username, summary.Role)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	a.presence.Touch(summary.Username)
	writeOK(w, http.StatusCreated, authResponse{
		Username:  summary.Username,
		Role:      summary.Role,
		Token:     token,
		ExpiresAt: expires,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFault(w, r, err)
		return
	}

	summary, err := a.registry.Authenticate(req.Username, req.Password)
	if err != nil {
		lockValue := a.lock.Status().LockValue
		if kind := fault.KindOf(err); kind == fault.InvalidCredentials || kind == fault.AccountLocked {
			a.auditlog.Append(r.Context(), audit.ActionLoginFailed, req.Username, "authentication failed", lockValue)
			if registry.TrippedLockout(err) {
				a.auditlog.Append(r.Context(), audit.ActionLockout, req.Username, "account locked after repeated failures", lockValue)
			}
		}
		writeFault(w, r, err)
		return
	}

	a.auditlog.Append(r.Context(), audit.ActionLogin, summary.Username, "authenticated", a.lock.Status().LockValue)
	token, expires, err := a.sessions.Issue(summary.Username, summary.Role)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	a.presence.Touch(summary.Username)
	writeOK(w, http.StatusOK, authResponse{
		Username:  summary.Username,
		Role:      summary.Role,
		Token:     token,
		ExpiresAt: expires,
	})
}

// handleLogout drops the principal's presence immediately, which
// force-releases the writer lock if they hold it.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	a.presence.Logout(p.Username)
	writeOK(w, http.StatusOK, struct{}{})
}
