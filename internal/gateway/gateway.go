// Package gateway exposes the CRM services over HTTP. Every route is bound to
// a single RPC call with a fixed timeout, and every RPC outcome is mapped to
// an HTTP response without leaking transport detail.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

// maxBodyBytes bounds request bodies forwarded to services.
const maxBodyBytes = 1 << 20

// Caller issues RPC calls. *runtime.Client implements it.
type Caller interface {
	Call(ctx context.Context, dest patterns.Destination, pattern patterns.Pattern, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Config configures a Gateway. Zero values select the defaults.
type Config struct {
	Routes   []Route
	Registry *patterns.Registry
	// AuthTimeout bounds the credential check of protected routes.
	AuthTimeout time.Duration
	// HealthTimeout bounds /health/{service} calls.
	HealthTimeout time.Duration
	// DisableAuth serves protected routes without a credential check.
	DisableAuth bool
}

// Gateway translates HTTP requests into RPC calls.
type Gateway struct {
	caller   Caller
	logger   loggingpkg.ServiceLogger
	registry *patterns.Registry
	routes   []Route

	authTimeout   time.Duration
	healthTimeout time.Duration
	disableAuth   bool
}

// New validates the route table and returns a gateway calling through caller.
func New(caller Caller, logger loggingpkg.ServiceLogger, cfg Config) (*Gateway, error) {
	if caller == nil {
		return nil, errors.New("gateway: caller is required")
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	if cfg.Registry == nil {
		cfg.Registry = patterns.Default()
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = HealthTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = HealthTimeout
	}
	if err := ValidateRoutes(cfg.Registry, cfg.Routes); err != nil {
		return nil, err
	}

	return &Gateway{
		caller:        caller,
		logger:        logger,
		registry:      cfg.Registry,
		routes:        cfg.Routes,
		authTimeout:   cfg.AuthTimeout,
		healthTimeout: cfg.HealthTimeout,
		disableAuth:   cfg.DisableAuth,
	}, nil
}

// Routes returns the route table in use.
func (g *Gateway) Routes() []Route {
	return append([]Route(nil), g.routes...)
}

// Handler builds the HTTP router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.liveness)
	r.Get("/health/{service}", g.serviceHealth)

	for _, route := range g.routes {
		r.Method(route.Method, route.Path, g.routeHandler(route))
	}
	return r
}

func (g *Gateway) liveness(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) serviceHealth(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	dest := patterns.Destination(service)
	pattern := patterns.Pattern(service + ".health")
	if err := g.registry.Validate(dest, pattern); err != nil {
		g.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown service", ID: service})
		return
	}

	data, err := g.call(r.Context(), dest, pattern, nil, g.healthTimeout)
	if err != nil {
		g.writeError(w, err, service)
		return
	}
	g.writeRaw(w, http.StatusOK, data)
}

func (g *Gateway) routeHandler(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var principal json.RawMessage
		if !route.Public && !g.disableAuth {
			var ok bool
			principal, ok = g.authenticate(r)
			if !ok {
				g.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: msgUnauthorized})
				return
			}
		}

		payload, err := buildPayload(r, principal)
		if err != nil {
			g.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msgInvalidBody})
			return
		}

		data, err := g.call(r.Context(), route.Destination, route.Pattern, payload, route.Timeout)
		if err != nil {
			g.writeError(w, err, chi.URLParam(r, "id"))
			return
		}
		g.writeRaw(w, route.successStatus(), data)
	}
}

// authenticate validates the bearer token with the identity service. Every
// failure, whatever its cause, is reported the same way.
func (g *Gateway) authenticate(r *http.Request) (json.RawMessage, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, false
	}
	principal, err := g.call(r.Context(), patterns.Identity, patterns.IdentityAuthValidate, map[string]string{"token": token}, g.authTimeout)
	if err != nil {
		return nil, false
	}
	return principal, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// call runs one RPC and logs its terminal state.
func (g *Gateway) call(ctx context.Context, dest patterns.Destination, pattern patterns.Pattern, payload any, timeout time.Duration) (json.RawMessage, error) {
	call := NewCall(dest, pattern, timeout)
	_ = call.MarkSent()
	data, err := g.caller.Call(ctx, dest, pattern, payload, timeout)
	_ = call.Resolve(err)

	fields := loggingpkg.LogFields{
		"request_id":  middleware.GetReqID(ctx),
		"destination": string(dest),
		"pattern":     string(pattern),
		"state":       call.State().String(),
		"duration_ms": call.Duration().Milliseconds(),
	}
	if err != nil {
		fields["reason"] = call.Reason()
		g.logger.Error("Gateway call failed", err, fields)
		return nil, err
	}
	g.logger.Debug("Gateway call succeeded", fields)
	return data, nil
}

// buildPayload merges the JSON object body, the path parameters and the
// query string into the request payload.
func buildPayload(r *http.Request, principal json.RawMessage) (map[string]any, error) {
	payload := make(map[string]any)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := jsoncodec.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		if payload == nil {
			payload = make(map[string]any)
		}
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			payload[key] = rctx.URLParams.Values[i]
		}
	}

	if query := r.URL.Query(); len(query) > 0 {
		q := make(map[string]string, len(query))
		for key := range query {
			q[key] = query.Get(key)
		}
		payload["query"] = q
	}

	if len(principal) > 0 {
		payload["auth"] = principal
	}
	return payload, nil
}

func (g *Gateway) writeError(w http.ResponseWriter, err error, id string) {
	status, body := StatusFor(err, id)
	g.writeJSON(w, status, body)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		g.logger.Error("Failed to encode response", err, nil)
	}
}

func (g *Gateway) writeRaw(w http.ResponseWriter, status int, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		g.logger.Error("Failed to write response", err, nil)
	}
}
