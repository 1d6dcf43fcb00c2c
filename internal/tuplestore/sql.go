package tuplestore

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"phicore/internal/pkgerr"
)

// SQLStore is a database/sql-backed Store implementation against the
// zanzibar_tuples relational schema from spec.md §6. It is driver
// agnostic: callers open *sql.DB with whichever driver they import
// (Postgres, MySQL, ...); this package never imports a specific driver.
//
//	CREATE TABLE zanzibar_tuples (
//	    organization_id    TEXT NOT NULL,
//	    subject_namespace  TEXT NOT NULL,
//	    subject_type       TEXT NOT NULL,
//	    subject_id         TEXT NOT NULL,
//	    subject_relation    TEXT NOT NULL DEFAULT '',
//	    relation_name      TEXT NOT NULL,
//	    object_namespace   TEXT NOT NULL,
//	    object_type        TEXT NOT NULL,
//	    object_id          TEXT NOT NULL,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    expires_at         TIMESTAMPTZ,
//	    UNIQUE (organization_id, subject_namespace, subject_type, subject_id,
//	            subject_relation, relation_name, object_namespace,
//	            object_type, object_id)
//	);
type SQLStore struct {
	db     *sql.DB
	schema *Schema
}

// NewSQLStore wraps db, validating writes against schema.
func NewSQLStore(db *sql.DB, schema *Schema) *SQLStore {
	return &SQLStore{db: db, schema: schema}
}

func (s *SQLStore) WriteTuple(ctx context.Context, t Tuple) error {
	if err := s.schema.Validate(t); err != nil {
		return err
	}
	return s.insert(ctx, s.db, t)
}

func (s *SQLStore) insert(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, t Tuple) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO zanzibar_tuples (
	organization_id, subject_namespace, subject_type, subject_id, subject_relation,
	relation_name, object_namespace, object_type, object_id, created_at, expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (organization_id, subject_namespace, subject_type, subject_id, subject_relation,
	relation_name, object_namespace, object_type, object_id) DO NOTHING`
	_, err := execer.ExecContext(ctx, q,
		t.Tenant,
		t.Subject.Object.Namespace, t.Subject.Object.Type, t.Subject.Object.ID, t.Subject.Relation,
		t.Relation,
		t.Object.Namespace, t.Object.Type, t.Object.ID,
		t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "insert tuple", err)
	}
	return nil
}

func (s *SQLStore) delete(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, t Tuple) error {
	const q = `
DELETE FROM zanzibar_tuples WHERE
	organization_id = $1 AND subject_namespace = $2 AND subject_type = $3 AND subject_id = $4
	AND subject_relation = $5 AND relation_name = $6 AND object_namespace = $7
	AND object_type = $8 AND object_id = $9`
	_, err := execer.ExecContext(ctx, q,
		t.Tenant,
		t.Subject.Object.Namespace, t.Subject.Object.Type, t.Subject.Object.ID, t.Subject.Relation,
		t.Relation,
		t.Object.Namespace, t.Object.Type, t.Object.ID,
	)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "delete tuple", err)
	}
	return nil
}

func (s *SQLStore) DeleteTuple(ctx context.Context, t Tuple) error {
	return s.delete(ctx, s.db, t)
}

// BatchWrite applies writes and deletes within a single transaction, so the
// whole batch commits or none of it does.
func (s *SQLStore) BatchWrite(ctx context.Context, b BatchWrite) error {
	for _, t := range b.Writes {
		if err := s.schema.Validate(t); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "begin batch_write transaction", err)
	}
	defer tx.Rollback()

	for _, t := range b.Writes {
		if err := s.insert(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, t := range b.Deletes {
		if err := s.delete(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "commit batch_write transaction", err)
	}
	return nil
}

func (s *SQLStore) ReadTuples(ctx context.Context, filter ReadFilter) ([]Tuple, error) {
	if filter.Tenant == "" {
		return nil, pkgerr.New(pkgerr.ValidationError, "read_tuples requires a tenant to prevent cross-tenant leakage")
	}
	q := `SELECT subject_namespace, subject_type, subject_id, subject_relation,
	relation_name, object_namespace, object_type, object_id, created_at, expires_at
FROM zanzibar_tuples WHERE organization_id = $1 AND (expires_at IS NULL OR expires_at > $2)`
	args := []interface{}{filter.Tenant, time.Now().UTC()}

	if filter.Subject != nil {
		q += " AND subject_namespace = $3 AND subject_type = $4 AND subject_id = $5 AND subject_relation = $6"
		args = append(args, filter.Subject.Object.Namespace, filter.Subject.Object.Type, filter.Subject.Object.ID, filter.Subject.Relation)
	}
	if filter.Relation != "" {
		q += " AND relation_name = $" + strconv.Itoa(len(args)+1)
		args = append(args, filter.Relation)
	}
	if filter.Object != nil {
		q += " AND object_namespace = $" + strconv.Itoa(len(args)+1) +
			" AND object_type = $" + strconv.Itoa(len(args)+2) +
			" AND object_id = $" + strconv.Itoa(len(args)+3)
		args = append(args, filter.Object.Namespace, filter.Object.Type, filter.Object.ID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "read_tuples query", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		var t Tuple
		t.Tenant = filter.Tenant
		var expires sql.NullTime
		if err := rows.Scan(
			&t.Subject.Object.Namespace, &t.Subject.Object.Type, &t.Subject.Object.ID, &t.Subject.Relation,
			&t.Relation,
			&t.Object.Namespace, &t.Object.Type, &t.Object.ID,
			&t.CreatedAt, &expires,
		); err != nil {
			return nil, pkgerr.Wrap(pkgerr.StorageError, "scan tuple row", err)
		}
		if expires.Valid {
			v := expires.Time
			t.ExpiresAt = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "iterate tuple rows", err)
	}
	return out, nil
}

func (s *SQLStore) TupleExists(ctx context.Context, t Tuple) (bool, error) {
	const q = `SELECT 1 FROM zanzibar_tuples WHERE
	organization_id = $1 AND subject_namespace = $2 AND subject_type = $3 AND subject_id = $4
	AND subject_relation = $5 AND relation_name = $6 AND object_namespace = $7
	AND object_type = $8 AND object_id = $9 AND (expires_at IS NULL OR expires_at > $10)`
	row := s.db.QueryRowContext(ctx, q,
		t.Tenant,
		t.Subject.Object.Namespace, t.Subject.Object.Type, t.Subject.Object.ID, t.Subject.Relation,
		t.Relation,
		t.Object.Namespace, t.Object.Type, t.Object.ID,
		time.Now().UTC(),
	)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, pkgerr.Wrap(pkgerr.StorageError, "tuple_exists query", err)
	}
	return true, nil
}
