package router

import (
	"net/http"
	"time"
)

type acquireResponse struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (a *API) handleAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	st, err := a.lock.Acquire(r.Context(), p.Username, p.Role)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, acquireResponse{Owner: st.Holder, AcquiredAt: st.AcquiredAt})
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := a.lock.Release(r.Context(), p.Username); err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, struct{}{})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := a.principal(r); err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, a.lock.Status())
}
