package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/criticalmanufacturing/portalauth/pkg/storage"
)

const (
	putAuditQuery = `
INSERT INTO portalauth.auth_audit (
  id, date_added, login, masked_credential, outcome, status_code, from_cache
) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

	listAuditByLoginQuery = `
SELECT
  id::text, date_added, login, masked_credential, outcome, status_code, from_cache
FROM portalauth.auth_audit
WHERE login = $1
ORDER BY date_added ASC
`
)

func (a *Adapter) PutAudit(ctx context.Context, record storage.AuditRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	_, err := a.stmts.putAudit.ExecContext(
		ctx,
		id,
		dateAdded,
		record.Login,
		record.MaskedCredential,
		string(record.Outcome),
		record.StatusCode,
		record.FromCache,
	)
	return err
}

func (a *Adapter) ListAuditByLogin(ctx context.Context, login string) ([]storage.AuditRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	rows, err := a.stmts.listAuditByLogin.QueryContext(ctx, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []storage.AuditRecord{}
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func scanAuditRecord(s scanner) (storage.AuditRecord, error) {
	var (
		record    storage.AuditRecord
		dateAdded time.Time
		outcome   string
	)

	if err := s.Scan(
		&record.ID,
		&dateAdded,
		&record.Login,
		&record.MaskedCredential,
		&outcome,
		&record.StatusCode,
		&record.FromCache,
	); err != nil {
		return storage.AuditRecord{}, err
	}

	record.DateAdded = dateAdded.UTC()
	record.Outcome = storage.AuditOutcome(outcome)

	return record, nil
}
