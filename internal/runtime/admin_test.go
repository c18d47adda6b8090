package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/northwind-crm/crmbus/internal/runtime/config"
	"github.com/northwind-crm/crmbus/internal/runtime/handlers"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

func newAdminTestService(t *testing.T, origins ...string) *Service {
	t.Helper()
	svc, err := New(context.Background(), &configpkg.Config{
		ServiceName:             "lead",
		AdminCORSAllowedOrigins: origins,
	}, newTestLogger(), ServiceDependencies{
		TransportFactory: newSharedFactory(t),
		Destination:      patterns.Lead,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestAdmin_Handlers(t *testing.T) {
	svc := newAdminTestService(t)
	noop := func(context.Context, handlers.Request) (json.RawMessage, error) { return nil, nil }
	require.NoError(t, svc.Register(HandlerRegistration{Pattern: patterns.LeadGet, Handler: noop}))
	require.NoError(t, svc.Subscribe(SubscriptionRegistration{
		EventType:  patterns.EventDealWon,
		Subscriber: "lead",
		Handler:    func(context.Context, handlers.Event) error { return nil },
	}))

	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, httptest.NewRequest(http.MethodGet, "/api/handlers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "rpc.lead", got[0]["name"])
	assert.Equal(t, "lead.get", got[0]["pattern"])
	assert.Equal(t, "event.deal.won.lead", got[1]["name"])
	assert.Contains(t, got[1], "stats")
}

func TestAdmin_HandlersEmptyList(t *testing.T) {
	svc := newAdminTestService(t)
	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, httptest.NewRequest(http.MethodGet, "/api/handlers", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAdmin_Patterns(t *testing.T) {
	svc := newAdminTestService(t)
	rec := httptest.NewRecorder()
	svc.handleGetPatterns(rec, httptest.NewRequest(http.MethodGet, "/api/patterns", nil))

	var got []patterns.DestinationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, len(patterns.Catalog))
	assert.Equal(t, "analytics", got[0].Name)
	assert.Equal(t, "analytics_queue", got[0].Queue)
}

func TestAdmin_CORS(t *testing.T) {
	t.Run("listed origin", func(t *testing.T) {
		svc := newAdminTestService(t, "https://ops.northwind.example")
		req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
		req.Header.Set("Origin", "https://ops.northwind.example")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)
		assert.Equal(t, "https://ops.northwind.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		svc := newAdminTestService(t, "https://ops.northwind.example")
		req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard preflight", func(t *testing.T) {
		svc := newAdminTestService(t, "*")
		req := httptest.NewRequest(http.MethodOptions, "/api/patterns", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		svc.handleGetPatterns(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Body.String())
	})
}

func TestStartAdminServer_Disabled(t *testing.T) {
	svc := newAdminTestService(t)
	svc.StartAdminServer()
	assert.Empty(t, svc.httpServers)

	svc.Conf.AdminEnabled = true
	svc.Conf.AdminPort = 0
	svc.StartAdminServer()
	assert.Contains(t, svc.httpServers, 8081)
}
