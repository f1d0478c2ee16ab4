package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/criticalmanufacturing/portalauth/pkg/storage"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
}

type preparedStatements struct {
	putAudit         *sql.Stmt
	listAuditByLogin *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var prepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put audit",
		query: putAuditQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putAudit = stmt
		},
	},
	{
		label: "list audit by login",
		query: listAuditByLoginQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.listAuditByLogin = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.AuditStore = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db: db,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.putAudit,
		a.stmts.listAuditByLogin,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(prepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range prepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.putAudit == nil || a.stmts.listAuditByLogin == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
