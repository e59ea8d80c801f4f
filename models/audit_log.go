package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the symbolic name of an audited event
type AuditAction string

const (
	AuditActionLoginSuccess  AuditAction = "login.success"
	AuditActionLogoutSuccess AuditAction = "logout.success"
	AuditActionTicketCreate  AuditAction = "ticket.create"
	AuditActionTicketUpdate  AuditAction = "ticket.update"
	AuditActionAccessDenied  AuditAction = "access.denied"
	AuditActionChainVerified AuditAction = "audit.verify"
)

// ActorType identifies who caused an audited event
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLogEntry is one immutable link of the audit hash chain
type AuditLogEntry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	SequenceNumber int64           `json:"sequenceNumber" db:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	Action         AuditAction     `json:"action" db:"action"`
	ActorID        string          `json:"actorId" db:"actor_id"`
	ActorEmail     string          `json:"actorEmail" db:"actor_email"`
	ActorType      ActorType       `json:"actorType" db:"actor_type"`
	EntityType     string          `json:"entityType" db:"entity_type"`
	EntityID       string          `json:"entityId" db:"entity_id"`
	Metadata       json.RawMessage `json:"metadata" db:"metadata"`
	PreviousHash   string          `json:"previousHash" db:"previous_hash"`
	SelfHash       string          `json:"selfHash" db:"self_hash"`
}

// TableName returns the table name for the AuditLogEntry model
func (AuditLogEntry) TableName() string {
	return "audit_chain_entries"
}

// AuditEvent is what callers submit to be appended to the chain.
// Sequence number, timestamp and hashes are assigned at append time.
type AuditEvent struct {
	Action     AuditAction            `json:"action" validate:"required,max=100"`
	ActorID    string                 `json:"actorId,omitempty" validate:"max=255"`
	ActorEmail string                 `json:"actorEmail,omitempty" validate:"omitempty,max=255"`
	ActorType  ActorType              `json:"actorType,omitempty" validate:"omitempty,oneof=user system"`
	EntityType string                 `json:"entityType,omitempty" validate:"max=100"`
	EntityID   string                 `json:"entityId,omitempty" validate:"max=255"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewAuditEvent creates a system event for the given action
func NewAuditEvent(action AuditAction) AuditEvent {
	return AuditEvent{
		Action:    action,
		ActorType: ActorTypeSystem,
	}
}

// WithActor sets the acting user
func (e AuditEvent) WithActor(actorID, actorEmail string) AuditEvent {
	e.ActorID = actorID
	e.ActorEmail = actorEmail
	e.ActorType = ActorTypeUser
	return e
}

// WithEntity sets the resource acted upon
func (e AuditEvent) WithEntity(entityType, entityID string) AuditEvent {
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}

// WithMetadata adds a metadata key
func (e AuditEvent) WithMetadata(key string, value interface{}) AuditEvent {
	meta := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// AuditLogFilter narrows an audit log listing. Zero values match everything.
type AuditLogFilter struct {
	Action     AuditAction
	ActorID    string
	EntityType string
	EntityID   string
	Start      *time.Time
	End        *time.Time
}
