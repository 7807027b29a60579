package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/bus"
	"soapbox.chat/internal/lock"
	"soapbox.chat/internal/message"
	"soapbox.chat/internal/obs"
	"soapbox.chat/internal/registry"
	"soapbox.chat/internal/session"
)

// ReadyProbe checks downstream readiness, e.g. a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API binds authenticated identity to the lock, message and audit
// components and translates their outcomes to the response envelope. It is
// the only component that knows about the transport.
type API struct {
	mux        *http.ServeMux
	registry   *registry.Registry
	sessions   *session.Authority
	lock       *lock.Lock
	messages   *message.Service
	auditlog   *audit.Log
	events     *bus.Bus
	presence   *PresenceTracker
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// Option configures API.
type Option func(*API)

// WithRateLimit overrides the default per-IP limit.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithReadyProbe wires the readiness check.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// New wires the command surface. The presence tracker is constructed here
// and feeds forced release of vanished lock holders.
func New(
	reg *registry.Registry,
	sessions *session.Authority,
	lk *lock.Lock,
	messages *message.Service,
	auditlog *audit.Log,
	events *bus.Bus,
	version string,
	opts ...Option,
) *API {
	a := &API{
		mux:        http.NewServeMux(),
		registry:   reg,
		sessions:   sessions,
		lock:       lk,
		messages:   messages,
		auditlog:   auditlog,
		events:     events,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}
	a.presence = NewPresenceTracker(func(username string) {
		lk.ClientVanished(context.Background(), username)
	})
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/messages", a.handleMessagesCollection)
	a.mux.HandleFunc("/v1/messages/", a.handleMessageResource)

	a.mux.HandleFunc("/v1/writer/acquire", a.handleAcquire)
	a.mux.HandleFunc("/v1/writer/release", a.handleRelease)
	a.mux.HandleFunc("/v1/status", a.handleStatus)

	a.mux.HandleFunc("/v1/admin/audit", a.handleAuditList)
	a.mux.HandleFunc("/v1/admin/writer", a.handleWriterToggle)
	a.mux.HandleFunc("/v1/admin/status", a.handleAdminStatus)

	a.mux.HandleFunc("/v1/stream", a.handleStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Presence exposes the tracker so the server can run its sweeper and tests
// can drive it.
func (a *API) Presence() *PresenceTracker { return a.presence }

// Handler returns the composed middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "soapbox-chatd",
		"version":        a.version,
		"audit_degraded": a.auditlog.Degraded(),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "soapbox-chatd",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
