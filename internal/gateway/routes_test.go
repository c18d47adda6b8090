package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

func findRoute(t *testing.T, method, path string) Route {
	t.Helper()
	for _, r := range DefaultRoutes() {
		if r.Method == method && r.Path == path {
			return r
		}
	}
	t.Fatalf("no route %s %s", method, path)
	return Route{}
}

func TestDefaultRoutes_Valid(t *testing.T) {
	require.NoError(t, ValidateRoutes(patterns.Default(), DefaultRoutes()))
}

func TestDefaultRoutes_Bindings(t *testing.T) {
	cases := []struct {
		method  string
		path    string
		pattern patterns.Pattern
		timeout time.Duration
	}{
		{http.MethodGet, "/leads", "lead.getAll", 5000 * time.Millisecond},
		{http.MethodPost, "/leads", "lead.create", 5000 * time.Millisecond},
		{http.MethodPost, "/leads/scoring/bulk-calculate", "lead.scoring.bulkCalculate", 30000 * time.Millisecond},
		{http.MethodPost, "/leads/bulk-assign", "lead.bulkAssign", 10 * time.Second},
		{http.MethodGet, "/users/{id}", "identity.user.get", 5 * time.Second},
		{http.MethodPost, "/analytics/reports", "analytics.report.generate", 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			r := findRoute(t, tc.method, tc.path)
			assert.Equal(t, tc.pattern, r.Pattern)
			assert.Equal(t, tc.timeout, r.Timeout)
			assert.Equal(t, patterns.Destination(tc.pattern.Namespace()), r.Destination)
		})
	}
}

func TestDefaultRoutes_TimeoutClasses(t *testing.T) {
	for _, r := range DefaultRoutes() {
		assert.GreaterOrEqual(t, r.Timeout, CRUDTimeout, r.String())
		assert.LessOrEqual(t, r.Timeout, HeavyTimeout, r.String())
	}
	assert.Equal(t, 3*time.Second, HealthTimeout)
}

func TestValidateRoutes(t *testing.T) {
	good := Route{Method: http.MethodGet, Path: "/leads", Destination: patterns.Lead, Pattern: patterns.LeadGetAll, Timeout: CRUDTimeout}

	cases := []struct {
		name   string
		routes []Route
		target error
		text   string
	}{
		{"unknown pattern", []Route{{Method: "GET", Path: "/x", Destination: patterns.Lead, Pattern: "lead.archive", Timeout: time.Second}}, rpcerrors.ErrUnknownPattern, ""},
		{"pattern of another destination", []Route{{Method: "GET", Path: "/x", Destination: patterns.Deal, Pattern: patterns.LeadGet, Timeout: time.Second}}, rpcerrors.ErrUnknownPattern, ""},
		{"unknown destination", []Route{{Method: "GET", Path: "/x", Destination: "billing", Pattern: "billing.get", Timeout: time.Second}}, rpcerrors.ErrUnknownDestination, ""},
		{"zero timeout", []Route{{Method: "GET", Path: "/x", Destination: patterns.Lead, Pattern: patterns.LeadGet}}, nil, "timeout must be positive"},
		{"duplicate", []Route{good, good}, nil, "declared twice"},
		{"missing method", []Route{{Path: "/x", Destination: patterns.Lead, Pattern: patterns.LeadGet, Timeout: time.Second}}, nil, "method and path are required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRoutes(patterns.Default(), tc.routes)
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
			if tc.text != "" {
				assert.Contains(t, err.Error(), tc.text)
			}
		})
	}
}
