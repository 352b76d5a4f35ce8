// Package domain holds the audit log model.
package domain

import "time"

// AuditLog is one recorded trust-boundary event: a verification outcome or an
// account-deletion step. Metadata is a free-form JSON fragment.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
