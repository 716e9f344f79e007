package admin

import (
	"time"

	"myapi/pkg/platform/audit"
)

// AuditListResponse is the body of GET /v1/admin/audit.
type AuditListResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// ExportRequest is the body of POST /v1/admin/audit/export. Both bounds
// default to the last 24 hours.
type ExportRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}
