package storage

import (
	"context"
	"time"
)

type AuditOutcome string

const (
	AuditOutcomeSuccess      AuditOutcome = "success"
	AuditOutcomeUnauthorized AuditOutcome = "unauthorized"
	AuditOutcomeUnavailable  AuditOutcome = "unavailable"
)

// AuditRecord is one observed resolution attempt. MaskedCredential carries
// only the masked form; the verbatim credential never reaches storage.
type AuditRecord struct {
	ID               string
	DateAdded        time.Time
	Login            string
	MaskedCredential string
	Outcome          AuditOutcome
	StatusCode       int
	FromCache        bool
}

// AuditStore persists resolution attempts so the host can answer who tried to
// authenticate, with what outcome, and whether the portal was consulted.
type AuditStore interface {
	PutAudit(ctx context.Context, record AuditRecord) error
	ListAuditByLogin(ctx context.Context, login string) ([]AuditRecord, error)
}
