package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/obs"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
	"clanledger.org/internal/users"
)

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the HTTP layer to the core services.
type Config struct {
	Version     string
	Maintenance bool

	// RootSecretHash enables the break-glass sign-in when set; it is
	// an argon2id encoding of the root secret.
	RootSecretHash string

	Guard    *authz.Guard
	Registry *roles.Registry
	Claims   *claims.Service
	Entries  *entries.Service
	Users    *users.Service
	Pricing  *pricing.Resolver
	Audit    audit.Recorder

	ReadyProbe ReadyProbe
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	version     string
	maintenance bool

	guard    *authz.Guard
	registry *roles.Registry
	claims   *claims.Service
	entries  *entries.Service
	users    *users.Service
	pricing  *pricing.Resolver
	audit    audit.Recorder

	rootSecretHash string
	readyProbe     ReadyProbe
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		version:     cfg.Version,
		maintenance: cfg.Maintenance,
		guard:       cfg.Guard,
		registry:    cfg.Registry,
		claims:      cfg.Claims,
		entries:     cfg.Entries,
		users:       cfg.Users,
		pricing:     cfg.Pricing,
		audit:       cfg.Audit,

		rootSecretHash: cfg.RootSecretHash,
		readyProbe:     cfg.ReadyProbe,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/claims", a.handleClaimsCollection)
	a.mux.HandleFunc("/v1/claims/", a.handleClaimResource)
	a.mux.HandleFunc("/v1/entries", a.handleEntriesCollection)
	a.mux.HandleFunc("/v1/entries/", a.handleEntryResource)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/pricing", a.handlePricing)
	a.mux.HandleFunc("/v1/audit", a.handleAuditList)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics on the outside,
// then request id, logging, hardening, limits, and authn closest to
// the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clanledger-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "clanledger-api",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.version,
		"maintenance": a.maintenance,
	})
}
