package label

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pganon/internal/domain"
)

// DefaultTable is the table created by the engine's migrations.
const DefaultTable = "anon.security_label"

// pgQuerier is the subset of pgxpool.Pool / pgx.Tx used by the store.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore keeps labels in a PostgreSQL table and checks object existence
// against the system catalogs.
type PGStore struct {
	db    pgQuerier
	table string
}

var _ ReadWriter = (*PGStore)(nil)

// NewPGStore creates a store over the default label table.
func NewPGStore(db pgQuerier) *PGStore {
	return &PGStore{db: db, table: DefaultTable}
}

// existence selects one row when the object exists. $1 is the object OID,
// $2 the sub-object id.
var existence = map[domain.ObjectKind]string{
	domain.KindRole:     "SELECT 1 FROM pg_catalog.pg_roles WHERE oid = $1 AND $2::int4 = 0",
	domain.KindSchema:   "SELECT 1 FROM pg_catalog.pg_namespace WHERE oid = $1 AND $2::int4 = 0",
	domain.KindTable:    "SELECT 1 FROM pg_catalog.pg_class WHERE oid = $1 AND $2::int4 = 0",
	domain.KindColumn:   "SELECT 1 FROM pg_catalog.pg_attribute WHERE attrelid = $1 AND attnum = $2 AND NOT attisdropped",
	domain.KindFunction: "SELECT 1 FROM pg_catalog.pg_proc WHERE oid = $1 AND $2::int4 = 0",
	domain.KindDatabase: "SELECT 1 FROM pg_catalog.pg_database WHERE oid = $1 AND $2::int4 = 0",
}

// Label implements Store.
func (s *PGStore) Label(ctx context.Context, ref domain.ObjectRef, provider string) (string, bool, error) {
	exists, ok := existence[ref.Kind()]
	if !ok {
		return "", false, domain.ErrFeatureNotSupported("labels on %s are not supported", ref.Class)
	}
	query := fmt.Sprintf(`SELECT l.label FROM (%s) AS o
LEFT JOIN %s AS l
  ON l.classname = $3 AND l.objoid = $1 AND l.objsubid = $2 AND l.provider = $4`, exists, s.table)

	var text *string
	err := s.db.QueryRow(ctx, query, uint32(ref.ID), ref.SubID, string(ref.Class), provider).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, domain.ErrNotFound("%s does not exist", ref)
	}
	if err != nil {
		return "", false, fmt.Errorf("read label for %s: %w", ref, err)
	}
	if text == nil {
		return "", false, nil
	}
	return *text, true, nil
}

// SetLabel implements Writer.
func (s *PGStore) SetLabel(ctx context.Context, ref domain.ObjectRef, provider string, label *string) error {
	if label == nil {
		query := fmt.Sprintf(`DELETE FROM %s
WHERE classname = $1 AND objoid = $2 AND objsubid = $3 AND provider = $4`, s.table)
		if _, err := s.db.Exec(ctx, query, string(ref.Class), uint32(ref.ID), ref.SubID, provider); err != nil {
			return fmt.Errorf("remove label for %s: %w", ref, err)
		}
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (classname, objoid, objsubid, provider, label)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (classname, objoid, objsubid, provider) DO UPDATE SET label = EXCLUDED.label`, s.table)
	if _, err := s.db.Exec(ctx, query, string(ref.Class), uint32(ref.ID), ref.SubID, provider, *label); err != nil {
		return fmt.Errorf("set label for %s: %w", ref, err)
	}
	return nil
}
