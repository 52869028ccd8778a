package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
	"dishdash.org/internal/ratelimit"
)

const serviceName = "dishdash-api"

// ReadyProbe checks the backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Version       string
	Ready         ReadyProbe
	Codec         *auth.Codec
	Exchange      *auth.Exchange
	Identities    auth.IdentityStore
	Registrar     Registrar
	Limiter       ratelimit.Admitter
	LoginThrottle *ratelimit.Throttle
	MaxBodyBytes  int64
	Now           func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	gate       *Gate
	exchange   *auth.Exchange
	identities auth.IdentityStore
	registrar  Registrar
	limiter    ratelimit.Admitter
	throttle   *ratelimit.Throttle
	maxBody    int64
	now        func() time.Time
}

func New(d Deps) *API {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: d.Ready,
		version:    d.Version,
		gate:       NewGate(d.Codec, d.Exchange),
		exchange:   d.Exchange,
		identities: d.Identities,
		registrar:  d.Registrar,
		limiter:    d.Limiter,
		throttle:   d.LoginThrottle,
		maxBody:    d.MaxBodyBytes,
		now:        now,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/refresh", a.handleRefresh)
	a.mux.Handle("/api/profile", requireSubject(http.HandlerFunc(a.handleProfile)))
	if a.registrar != nil {
		a.mux.HandleFunc("/api/users", a.handleCreateUser)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.gate.Middleware(h)
	h = RateLimit(h, a.limiter, a.now)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.Logger().WarnContext(r.Context(), "readiness check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": a.version,
		"time":    a.now().UTC().Format(time.RFC3339),
	})
}

type profileResponse struct {
	auth.Principal
	Renewed bool `json:"renewed"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())
	principal, err := a.identities.ResolveIdentity(r.Context(), subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "user not found")
			return
		}
		obs.Logger().ErrorContext(r.Context(), "resolve identity failed", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Principal: principal,
		Renewed:   auth.RenewedFromContext(r.Context()),
	})
}
