package router

import (
	"fmt"
	"net/http"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/message"
	"soapbox.chat/internal/registry"
	"soapbox.chat/internal/session"
	"soapbox.chat/internal/store"
)

type auditPage struct {
	Items   []store.AuditEntry `json:"items"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) requireAdmin(r *http.Request) (session.Principal, error) {
	p, err := a.principal(r)
	if err != nil {
		return session.Principal{}, err
	}
	if p.Role != registry.RoleAdmin {
		return session.Principal{}, fault.New(fault.Forbidden, "admin role required")
	}
	return p, nil
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, err := a.requireAdmin(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	page, limit, err := queryPagination(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	page, limit, err = message.NormalizePage(page, limit)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	items, total, err := a.auditlog.List(r.Context(), page, limit)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if items == nil {
		items = []store.AuditEntry{}
	}
	a.auditlog.Append(r.Context(), audit.ActionRead, p.Username,
		fmt.Sprintf("audit log read (page %d, limit %d)", page, limit), a.lock.Status().LockValue)

	writeOK(w, http.StatusOK, auditPage{
		Items:   items,
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: page*limit < total,
	})
}

func (a *API) handleWriterToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, err := a.requireAdmin(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFault(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeFault(w, r, fault.New(fault.InvalidInput, "enabled is required"))
		return
	}

	st := a.lock.SetEnabled(r.Context(), p.Username, *req.Enabled)
	writeOK(w, http.StatusOK, map[string]bool{"writer_enabled": st.WriterEnabled})
}

func (a *API) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := a.requireAdmin(r); err != nil {
		writeFault(w, r, err)
		return
	}

	active, grace := a.presence.Counts()
	writeOK(w, http.StatusOK, map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"lock":           a.lock.Status(),
		"subscribers":    a.events.SubscriberCount(),
		"presence":       map[string]int{"active": active, "grace": grace},
		"audit_degraded": a.auditlog.Degraded(),
		"version":        a.version,
	})
}
