package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pganon/internal/domain"
)

// pgQuerier is the subset of pgxpool.Pool / pgx.Tx used by the reader.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGReader reads the PostgreSQL system catalogs.
type PGReader struct {
	db pgQuerier
}

var _ Reader = (*PGReader)(nil)

// NewPGReader creates a reader over a pool or transaction.
func NewPGReader(db pgQuerier) *PGReader {
	return &PGReader{db: db}
}

const relationQuery = `SELECT c.oid, c.relnamespace, n.nspname, c.relname, c.relkind::text
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.oid = $1`

const columnsQuery = `SELECT a.attname,
       a.attnum,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), ''),
       a.attgenerated::text
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

// Relation implements Reader. Name resolution, including the search path,
// is left to to_regclass.
func (r *PGReader) Relation(ctx context.Context, schema, name string) (*Relation, error) {
	display := name
	if schema != "" {
		display = schema + "." + name
	}
	var oid *uint32
	qualified := (&Relation{Schema: schema, Name: name}).QualifiedName()
	if err := r.db.QueryRow(ctx, "SELECT pg_catalog.to_regclass($1)::oid", qualified).Scan(&oid); err != nil {
		return nil, fmt.Errorf("resolve relation %s: %w", display, err)
	}
	if oid == nil {
		return nil, domain.ErrNotFound("relation %s does not exist", display)
	}
	return r.RelationByOID(ctx, domain.OID(*oid))
}

// RelationByOID implements Reader.
func (r *PGReader) RelationByOID(ctx context.Context, oid domain.OID) (*Relation, error) {
	var (
		relOID, nsOID uint32
		rel           Relation
		kind          string
	)
	err := r.db.QueryRow(ctx, relationQuery, uint32(oid)).Scan(&relOID, &nsOID, &rel.Schema, &rel.Name, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound("relation with OID %d does not exist", oid)
	}
	if err != nil {
		return nil, fmt.Errorf("read relation %d: %w", oid, err)
	}
	rel.OID = domain.OID(relOID)
	rel.Namespace = domain.OID(nsOID)
	rel.Kind = RelationKind(kind)

	rows, err := r.db.Query(ctx, columnsQuery, relOID)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", rel.QualifiedName(), err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col       Column
			expr, gen string
		)
		if err := rows.Scan(&col.Name, &col.Attnum, &col.Type, &expr, &gen); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", rel.QualifiedName(), err)
		}
		if gen == "s" {
			col.Generated = expr
		} else {
			col.Default = expr
		}
		rel.Columns = append(rel.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", rel.QualifiedName(), err)
	}
	return &rel, nil
}

// Tables implements Reader.
func (r *PGReader) Tables(ctx context.Context) ([]*Relation, error) {
	rows, err := r.db.Query(ctx, `SELECT c.oid
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'r'
  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND n.nspname NOT LIKE 'pg\_toast%'
ORDER BY c.oid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	oids, err := pgx.CollectRows(rows, pgx.RowTo[uint32])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]*Relation, 0, len(oids))
	for _, oid := range oids {
		rel, err := r.RelationByOID(ctx, domain.OID(oid))
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// Namespace implements Reader.
func (r *PGReader) Namespace(ctx context.Context, name string) (domain.OID, error) {
	return r.lookupOID(ctx, "SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = $1", name,
		domain.ErrNotFound("schema %q does not exist", name))
}

// FunctionOverloads implements Reader.
func (r *PGReader) FunctionOverloads(ctx context.Context, namespace domain.OID, name string) ([]domain.OID, error) {
	rows, err := r.db.Query(ctx,
		"SELECT oid FROM pg_catalog.pg_proc WHERE pronamespace = $1 AND proname = $2 ORDER BY oid",
		uint32(namespace), name)
	if err != nil {
		return nil, fmt.Errorf("list overloads of %s: %w", name, err)
	}
	oids, err := pgx.CollectRows(rows, pgx.RowTo[uint32])
	if err != nil {
		return nil, fmt.Errorf("list overloads of %s: %w", name, err)
	}
	out := make([]domain.OID, len(oids))
	for i, oid := range oids {
		out[i] = domain.OID(oid)
	}
	return out, nil
}

// Function implements Reader.
func (r *PGReader) Function(ctx context.Context, signature string) (domain.OID, error) {
	var oid *uint32
	if err := r.db.QueryRow(ctx, "SELECT pg_catalog.to_regprocedure($1)::oid", signature).Scan(&oid); err != nil {
		return 0, fmt.Errorf("resolve function %s: %w", signature, err)
	}
	if oid == nil {
		return 0, domain.ErrNotFound("function %s does not exist", signature)
	}
	return domain.OID(*oid), nil
}

// Role implements Reader.
func (r *PGReader) Role(ctx context.Context, name string) (domain.OID, error) {
	return r.lookupOID(ctx, "SELECT oid FROM pg_catalog.pg_roles WHERE rolname = $1", name,
		domain.ErrNotFound("role %q does not exist", name))
}

// CurrentDatabase implements Reader.
func (r *PGReader) CurrentDatabase(ctx context.Context) (domain.OID, error) {
	var oid uint32
	err := r.db.QueryRow(ctx,
		"SELECT oid FROM pg_catalog.pg_database WHERE datname = pg_catalog.current_database()").Scan(&oid)
	if err != nil {
		return 0, fmt.Errorf("read current database: %w", err)
	}
	return domain.OID(oid), nil
}

// Database implements Reader.
func (r *PGReader) Database(ctx context.Context, name string) (domain.OID, error) {
	if name == "" {
		return r.CurrentDatabase(ctx)
	}
	return r.lookupOID(ctx,
		"SELECT oid FROM pg_catalog.pg_database WHERE datname = pg_catalog.current_database() AND datname = $1", name,
		domain.ErrNotFound("database %q is not the current database", name))
}

func (r *PGReader) lookupOID(ctx context.Context, query, arg string, missing error) (domain.OID, error) {
	var oid uint32
	err := r.db.QueryRow(ctx, query, arg).Scan(&oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, missing
	}
	if err != nil {
		return 0, fmt.Errorf("lookup %q: %w", arg, err)
	}
	return domain.OID(oid), nil
}
