package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

// Timeout classes of gateway routes.
const (
	HealthTimeout = 3 * time.Second
	CRUDTimeout   = 5 * time.Second
	BulkTimeout   = 10 * time.Second
	HeavyTimeout  = 30 * time.Second
)

// Route binds one HTTP endpoint to exactly one RPC call. The binding is
// static: nothing in the request can change where the call goes.
type Route struct {
	Method      string
	Path        string
	Destination patterns.Destination
	Pattern     patterns.Pattern
	Timeout     time.Duration
	// Status is written on success. Zero means 200.
	Status int
	// Public routes skip the credential check.
	Public bool
}

func (r Route) String() string {
	return r.Method + " " + r.Path + " -> " + string(r.Pattern)
}

func (r Route) successStatus() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

func crud(method, path string, p patterns.Pattern) Route {
	return Route{Method: method, Path: path, Destination: patterns.Destination(p.Namespace()), Pattern: p, Timeout: CRUDTimeout}
}

func created(path string, p patterns.Pattern) Route {
	r := crud(http.MethodPost, path, p)
	r.Status = http.StatusCreated
	return r
}

func bulk(method, path string, p patterns.Pattern, timeout time.Duration) Route {
	r := crud(method, path, p)
	r.Timeout = timeout
	return r
}

// DefaultRoutes is the REST surface of the CRM.
func DefaultRoutes() []Route {
	return []Route{
		crud(http.MethodGet, "/users", patterns.IdentityUserList),
		crud(http.MethodGet, "/users/{id}", patterns.IdentityUserGet),

		crud(http.MethodGet, "/leads", patterns.LeadGetAll),
		crud(http.MethodGet, "/leads/{id}", patterns.LeadGet),
		created("/leads", patterns.LeadCreate),
		crud(http.MethodPut, "/leads/{id}", patterns.LeadUpdate),
		crud(http.MethodDelete, "/leads/{id}", patterns.LeadDelete),
		bulk(http.MethodPost, "/leads/{id}/convert", patterns.LeadConvert, BulkTimeout),
		bulk(http.MethodPost, "/leads/bulk-assign", patterns.LeadBulkAssign, BulkTimeout),
		bulk(http.MethodPost, "/leads/scoring/bulk-calculate", patterns.LeadScoringBulkCalculate, HeavyTimeout),

		crud(http.MethodGet, "/deals", patterns.DealGetAll),
		crud(http.MethodGet, "/deals/{id}", patterns.DealGet),
		created("/deals", patterns.DealCreate),
		crud(http.MethodPut, "/deals/{id}", patterns.DealUpdate),
		crud(http.MethodDelete, "/deals/{id}", patterns.DealDelete),
		crud(http.MethodPost, "/deals/{id}/stage", patterns.DealStageMove),

		crud(http.MethodGet, "/contacts", patterns.ContactGetAll),
		crud(http.MethodGet, "/contacts/{id}", patterns.ContactGet),
		created("/contacts", patterns.ContactCreate),
		crud(http.MethodPut, "/contacts/{id}", patterns.ContactUpdate),
		crud(http.MethodDelete, "/contacts/{id}", patterns.ContactDelete),

		crud(http.MethodGet, "/tasks", patterns.TaskGetAll),
		crud(http.MethodGet, "/tasks/{id}", patterns.TaskGet),
		created("/tasks", patterns.TaskCreate),
		crud(http.MethodPut, "/tasks/{id}", patterns.TaskUpdate),
		crud(http.MethodPost, "/tasks/{id}/complete", patterns.TaskComplete),

		crud(http.MethodGet, "/pipelines", patterns.PipelineGetAll),
		crud(http.MethodGet, "/pipelines/{id}", patterns.PipelineGet),
		created("/pipelines", patterns.PipelineCreate),

		crud(http.MethodGet, "/notifications", patterns.NotificationList),
		crud(http.MethodPost, "/notifications", patterns.NotificationSend),

		bulk(http.MethodPost, "/calls", patterns.TelephonyCallStart, BulkTimeout),
		crud(http.MethodGet, "/calls", patterns.TelephonyCallHistory),

		bulk(http.MethodGet, "/analytics/dashboard", patterns.AnalyticsDashboardGet, BulkTimeout),
		bulk(http.MethodPost, "/analytics/reports", patterns.AnalyticsReportGenerate, HeavyTimeout),

		bulk(http.MethodGet, "/audit/logs", patterns.AuditLogList, BulkTimeout),
	}
}

// ValidateRoutes checks every route against reg so a pattern that drifted
// from the catalog fails at boot. All problems are reported at once.
func ValidateRoutes(reg *patterns.Registry, routes []Route) error {
	var errs []error
	seen := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		if r.Method == "" || r.Path == "" {
			errs = append(errs, fmt.Errorf("route %s: method and path are required", r))
			continue
		}
		key := r.Method + " " + r.Path
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("route %s: declared twice", r))
		}
		seen[key] = struct{}{}

		if err := reg.Validate(r.Destination, r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", r, err))
		}
		if r.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("route %s: timeout must be positive", r))
		}
	}
	return errors.Join(errs...)
}
