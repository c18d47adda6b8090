package patterns

// Destinations of the CRM. Each is served by exactly one deployable service.
const (
	Identity     Destination = "identity"
	Lead         Destination = "lead"
	Deal         Destination = "deal"
	Contact      Destination = "contact"
	Task         Destination = "task"
	Pipeline     Destination = "pipeline"
	Notification Destination = "notification"
	Telephony    Destination = "telephony"
	Analytics    Destination = "analytics"
	Audit        Destination = "audit"
)

// Identity service.
const (
	IdentityHealth       Pattern = "identity.health"
	IdentityAuthValidate Pattern = "identity.auth.validate"
	IdentityUserGet      Pattern = "identity.user.get"
	IdentityUserList     Pattern = "identity.user.list"
)

// Lead service.
const (
	LeadHealth               Pattern = "lead.health"
	LeadGetAll               Pattern = "lead.getAll"
	LeadGet                  Pattern = "lead.get"
	LeadCreate               Pattern = "lead.create"
	LeadUpdate               Pattern = "lead.update"
	LeadDelete               Pattern = "lead.delete"
	LeadConvert              Pattern = "lead.convert"
	LeadBulkAssign           Pattern = "lead.bulkAssign"
	LeadScoringBulkCalculate Pattern = "lead.scoring.bulkCalculate"
)

// Deal service.
const (
	DealHealth    Pattern = "deal.health"
	DealGetAll    Pattern = "deal.getAll"
	DealGet       Pattern = "deal.get"
	DealCreate    Pattern = "deal.create"
	DealUpdate    Pattern = "deal.update"
	DealDelete    Pattern = "deal.delete"
	DealStageMove Pattern = "deal.stage.move"
)

// Contact service.
const (
	ContactHealth Pattern = "contact.health"
	ContactGetAll Pattern = "contact.getAll"
	ContactGet    Pattern = "contact.get"
	ContactCreate Pattern = "contact.create"
	ContactUpdate Pattern = "contact.update"
	ContactDelete Pattern = "contact.delete"
)

// Task service.
const (
	TaskHealth   Pattern = "task.health"
	TaskGetAll   Pattern = "task.getAll"
	TaskGet      Pattern = "task.get"
	TaskCreate   Pattern = "task.create"
	TaskUpdate   Pattern = "task.update"
	TaskComplete Pattern = "task.complete"
)

// Pipeline service.
const (
	PipelineHealth Pattern = "pipeline.health"
	PipelineGetAll Pattern = "pipeline.getAll"
	PipelineGet    Pattern = "pipeline.get"
	PipelineCreate Pattern = "pipeline.create"
)

// Notification service.
const (
	NotificationHealth Pattern = "notification.health"
	NotificationSend   Pattern = "notification.send"
	NotificationList   Pattern = "notification.list"
)

// Telephony service.
const (
	TelephonyHealth      Pattern = "telephony.health"
	TelephonyCallStart   Pattern = "telephony.call.start"
	TelephonyCallHistory Pattern = "telephony.call.history"
)

// Analytics service.
const (
	AnalyticsHealth         Pattern = "analytics.health"
	AnalyticsDashboardGet   Pattern = "analytics.dashboard.get"
	AnalyticsReportGenerate Pattern = "analytics.report.generate"
)

// Audit service.
const (
	AuditHealth  Pattern = "audit.health"
	AuditLogList Pattern = "audit.log.list"
)

// Catalog lists every pattern served by each destination.
var Catalog = map[Destination][]Pattern{
	Identity:     {IdentityHealth, IdentityAuthValidate, IdentityUserGet, IdentityUserList},
	Lead:         {LeadHealth, LeadGetAll, LeadGet, LeadCreate, LeadUpdate, LeadDelete, LeadConvert, LeadBulkAssign, LeadScoringBulkCalculate},
	Deal:         {DealHealth, DealGetAll, DealGet, DealCreate, DealUpdate, DealDelete, DealStageMove},
	Contact:      {ContactHealth, ContactGetAll, ContactGet, ContactCreate, ContactUpdate, ContactDelete},
	Task:         {TaskHealth, TaskGetAll, TaskGet, TaskCreate, TaskUpdate, TaskComplete},
	Pipeline:     {PipelineHealth, PipelineGetAll, PipelineGet, PipelineCreate},
	Notification: {NotificationHealth, NotificationSend, NotificationList},
	Telephony:    {TelephonyHealth, TelephonyCallStart, TelephonyCallHistory},
	Analytics:    {AnalyticsHealth, AnalyticsDashboardGet, AnalyticsReportGenerate},
	Audit:        {AuditHealth, AuditLogList},
}

// Domain event types broadcast between services.
const (
	EventLeadCreated      = "lead.created"
	EventLeadUpdated      = "lead.updated"
	EventLeadConverted    = "lead.converted"
	EventDealStageChanged = "deal.stage.changed"
	EventDealWon          = "deal.won"
	EventContactCreated   = "contact.created"
	EventTaskCompleted    = "task.completed"
	EventCallEnded        = "telephony.call.ended"
	EventUserLoggedIn     = "identity.user.loggedIn"
)
