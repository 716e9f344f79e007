package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "myapi/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance:
	// account creation, data changes, exports.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// auth failures, revocations, rate limit violations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Outcome records whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Category   EventCategory     `json:"category"`
	Timestamp  time.Time         `json:"timestamp"`
	UserID     id.UserID         `json:"user_id,omitzero"`
	Subject    string            `json:"subject,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AuditEvent string

const (
	// Auth events
	EventUserRegistered AuditEvent = "user_registered"
	EventTokenIssued    AuditEvent = "token_issued"
	EventTokenRefreshed AuditEvent = "token_refreshed"
	EventTokenRevoked   AuditEvent = "token_revoked"
	EventAuthFailed     AuditEvent = "auth_failed"

	// Item events
	EventItemCreated  AuditEvent = "item_created"
	EventItemUpdated  AuditEvent = "item_updated"
	EventItemDeleted  AuditEvent = "item_deleted"
	EventItemRestored AuditEvent = "item_restored"
	EventItemAccessed AuditEvent = "item_accessed"

	// Rate limit events
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventAllowlistBypassed AuditEvent = "allowlist_bypassed"

	// Admin events
	EventAuditExported AuditEvent = "audit_exported"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventUserRegistered: CategoryCompliance,
	EventItemCreated:    CategoryCompliance,
	EventItemUpdated:    CategoryCompliance,
	EventItemDeleted:    CategoryCompliance,
	EventItemRestored:   CategoryCompliance,
	EventAuditExported:  CategoryCompliance,

	EventAuthFailed:        CategorySecurity,
	EventTokenRevoked:      CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,
	EventAllowlistBypassed: CategorySecurity,

	EventTokenIssued:    CategoryOperations,
	EventTokenRefreshed: CategoryOperations,
	EventItemAccessed:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListRange(ctx context.Context, from, to time.Time) ([]Event, error)
}
