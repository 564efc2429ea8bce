package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/carebridge/pkg/contextkeys"
	"github.com/platinummonkey/carebridge/pkg/httputil"
)

// Action names an audited operation
type Action string

const (
	// Authentication
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionLoginFailed Action = "LOGIN_FAILED"

	// Identity sync
	ActionUserSynced          Action = "USER_SYNCED"
	ActionUserUpdated         Action = "USER_UPDATED"
	ActionUserDeleted         Action = "USER_DELETED"
	ActionUserSyncFailed      Action = "USER_SYNC_FAILED"
	ActionConsistencyMismatch Action = "CONSISTENCY_MISMATCH"
	ActionRoleSelected        Action = "ROLE_SELECTED"

	// Administration
	ActionProfessionalVerified Action = "PROFESSIONAL_VERIFIED"

	// Authorization
	ActionPermissionDenied    Action = "PERMISSION_DENIED"
	ActionAuthorizationFailed Action = "AUTHORIZATION_FAILED"
	ActionAccessGranted       Action = "ACCESS_GRANTED"
	ActionOwnershipBypass     Action = "OWNERSHIP_BYPASS"
	ActionProfileViewed       Action = "PROFILE_VIEWED"

	// Webhooks
	ActionWebhookVerificationFailed Action = "WEBHOOK_VERIFICATION_FAILED"
	ActionWebhookProcessingFailed   Action = "WEBHOOK_PROCESSING_FAILED"

	// Audit administration
	ActionAuditExported       Action = "AUDIT_EXPORTED"
	ActionAuditRetentionSweep Action = "AUDIT_RETENTION_SWEEP"
)

// RiskLevel classifies an event for alerting and retention
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known level
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Alerting reports whether events at r raise a security alert and are
// exempt from retention
func (r RiskLevel) Alerting() bool {
	return r == RiskHigh || r == RiskCritical
}

// Resource types
const (
	ResourceUser       = "user"
	ResourceSession    = "session"
	ResourcePermission = "permission"
	ResourceEndpoint   = "endpoint"
	ResourceWebhook    = "webhook"
	ResourceAuditLog   = "audit_log"
)

// Event is a single immutable audit record
type Event struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"user_id,omitempty"`
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RiskLevel    RiskLevel              `json:"risk_level"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewEvent starts a successful event with an empty detail map
func NewEvent(action Action, risk RiskLevel) *Event {
	return &Event{
		Action:    action,
		RiskLevel: risk,
		Success:   true,
		Details:   map[string]interface{}{},
	}
}

// ForUser sets the actor. An empty id leaves the actor unset.
func (e *Event) ForUser(userID string) *Event {
	if userID != "" {
		e.UserID = &userID
	}
	return e
}

// On sets the resource the event is about
func (e *Event) On(resourceType, resourceID string) *Event {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// With adds a detail field
func (e *Event) With(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// WithMeta copies request metadata into the event
func (e *Event) WithMeta(m RequestMeta) *Event {
	e.IPAddress = m.IPAddress
	e.UserAgent = m.UserAgent
	e.RequestID = m.RequestID
	if e.UserID == nil {
		e.ForUser(m.UserID)
	}
	return e
}

// Failed marks the event unsuccessful. err may be nil.
func (e *Event) Failed(err error) *Event {
	e.Success = false
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// normalize fills the defaults applied to every recorded event
func (e *Event) normalize(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if !e.RiskLevel.Valid() {
		e.RiskLevel = RiskLow
	}
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
}

// RequestMeta is the request context stamped onto events
type RequestMeta struct {
	UserID    string
	IPAddress string
	UserAgent string
	RequestID string
}

// MetaFromRequest reads metadata from r and its context
func MetaFromRequest(r *http.Request) RequestMeta {
	ctx := r.Context()
	m := RequestMeta{
		UserID:    contextkeys.GetUserID(ctx),
		IPAddress: contextkeys.GetClientIP(ctx),
		UserAgent: contextkeys.GetUserAgent(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if m.IPAddress == "" {
		m.IPAddress = httputil.ClientIP(r)
	}
	if m.UserAgent == "" {
		m.UserAgent = r.UserAgent()
	}
	return m
}

// Filter narrows searches and stats
type Filter struct {
	UserID       string
	Actions      []Action
	ResourceType string
	ResourceID   string
	RiskLevel    RiskLevel
	Success      *bool
	StartTime    *time.Time
	EndTime      *time.Time
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Pagination selects a page of results, 1-based
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalize clamps the page and size to their allowed ranges
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows before this page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of events, newest first
type Page struct {
	Events     []*Event `json:"events"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

func newPage(events []*Event, total int64, p Pagination) *Page {
	pages := int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	return &Page{Events: events, Total: total, Page: p.Page, PageSize: p.PageSize, TotalPages: pages}
}

// Stats aggregates events matching a filter
type Stats struct {
	TotalEvents    int64               `json:"total_events"`
	EventsByAction map[Action]int64    `json:"events_by_action"`
	EventsByRisk   map[RiskLevel]int64 `json:"events_by_risk"`
	FailedEvents   int64               `json:"failed_events"`
	UniqueUsers    int64               `json:"unique_users"`
	UniqueIPs      int64               `json:"unique_ips"`
}

func newStats() *Stats {
	return &Stats{
		EventsByAction: make(map[Action]int64),
		EventsByRisk:   make(map[RiskLevel]int64),
	}
}
