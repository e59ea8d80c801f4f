package audit

import (
	"context"

	"github.com/upb/helpdesk/models"
)

// EntryPublisher exports committed chain entries to downstream consumers
type EntryPublisher interface {
	Publish(ctx context.Context, entry *models.AuditLogEntry) error
	Close() error
}
