package router

import (
	"net/http"
	"strconv"
	"strings"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/registry"
)

type messageRequest struct {
	Body string `json:"body"`
}

func (a *API) handleMessagesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMessages(w, r)
	case http.MethodPost:
		a.createMessage(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMessageResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	if raw == "" || strings.Contains(raw, "/") {
		writeFault(w, r, fault.New(fault.NotFound, "resource not found"))
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		writeFault(w, r, fault.New(fault.InvalidInput, "message id must be a positive integer"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		a.updateMessage(w, r, id)
	case http.MethodDelete:
		a.deleteMessage(w, r, id)
	default:
		methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := a.principal(r); err != nil {
		writeFault(w, r, err)
		return
	}
	page, limit, err := queryPagination(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	result, err := a.messages.List(r.Context(), page, limit)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFault(w, r, err)
		return
	}
	msg, err := a.messages.Create(r.Context(), registry.Summary{Username: p.Username, Role: p.Role}, req.Body)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, msg)
}

func (a *API) updateMessage(w http.ResponseWriter, r *http.Request, id int64) {
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFault(w, r, err)
		return
	}
	msg, err := a.messages.Update(r.Context(), registry.Summary{Username: p.Username, Role: p.Role}, id, req.Body)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request, id int64) {
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := a.messages.Delete(r.Context(), registry.Summary{Username: p.Username, Role: p.Role}, id); err != nil {
		writeFault(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]int64{"id": id})
}

func queryPagination(r *http.Request) (page, limit int, err error) {
	page, err = queryInt(r, "page", 0)
	if err != nil {
		return 0, 0, err
	}
	limit, err = queryInt(r, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fault.New(fault.InvalidInput, "%s must be an integer", name)
	}
	if v < 1 {
		return 0, fault.New(fault.InvalidInput, "%s must be a positive integer", name)
	}
	return v, nil
}
