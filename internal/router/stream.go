package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"soapbox.chat/internal/bus"
)

const heartbeatInterval = 15 * time.Second

// handleStream serves the live event feed over Server-Sent Events. The
// first delivered event is always a lock_state snapshot. A write failure
// terminates the subscription, which in turn feeds the presence tracker.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, err := a.principal(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := a.events.Subscribe(p.Username, string(p.Role))
	a.presence.SubscriptionOpened(p.Username)
	defer func() {
		a.events.Unsubscribe(sub.ID())
		a.presence.SubscriptionClosed(p.Username)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan bus.Event)
	go func() {
		defer close(events)
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
