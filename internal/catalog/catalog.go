// Package catalog reads relation, column, namespace, function and role
// metadata that the masking engine needs.
package catalog

import (
	"context"
	"strings"

	"pganon/internal/domain"
	"pganon/internal/pgsql"
)

// RelationKind mirrors pg_class.relkind.
type RelationKind string

// Relation kinds that can appear in a FROM clause.
const (
	KindTable            RelationKind = "r"
	KindPartitionedTable RelationKind = "p"
	KindView             RelationKind = "v"
	KindMaterializedView RelationKind = "m"
	KindForeignTable     RelationKind = "f"
)

// Sampleable reports whether PostgreSQL accepts a TABLESAMPLE clause on
// relations of this kind.
func (k RelationKind) Sampleable() bool {
	switch k {
	case KindTable, KindPartitionedTable, KindMaterializedView:
		return true
	}
	return false
}

// Column is a live (not dropped) attribute.
type Column struct {
	Name   string
	Attnum int16
	// Type is the formatted type including its modifier, e.g. "character varying(30)".
	Type string
	// Default is the deparsed default expression, empty when there is none.
	Default string
	// Generated is the deparsed generation expression of a stored
	// generated column.
	Generated string
}

// IsGenerated reports whether the column is a stored generated column.
func (c Column) IsGenerated() bool { return c.Generated != "" }

// Relation describes a table-like object. Columns are in attribute number
// order; attnums may have gaps where columns were dropped.
type Relation struct {
	OID       domain.OID
	Namespace domain.OID
	Schema    string
	Name      string
	Kind      RelationKind
	Columns   []Column
}

// QualifiedName returns the quoted schema-qualified name.
func (r *Relation) QualifiedName() string {
	return pgsql.QuoteQualified(r.Schema, r.Name)
}

// Column looks up a live column by name.
func (r *Relation) Column(name string) (Column, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Attnums returns the original attribute numbers of the live columns.
func (r *Relation) Attnums() []int16 {
	out := make([]int16, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Attnum
	}
	return out
}

// Ref returns the label address of the relation.
func (r *Relation) Ref() domain.ObjectRef { return domain.TableRef(r.OID) }

// ColumnRef returns the label address of one of its columns.
func (r *Relation) ColumnRef(c Column) domain.ObjectRef { return domain.ColumnRef(r.OID, c.Attnum) }

// IsSystemSchema reports whether a namespace belongs to the system catalogs.
func IsSystemSchema(schema string) bool {
	return schema == "pg_catalog" || schema == "information_schema" || strings.HasPrefix(schema, "pg_toast")
}

// Reader resolves catalog objects. Every lookup of a missing object returns
// a *domain.NotFoundError.
type Reader interface {
	// Relation resolves a relation by name. An empty schema searches the
	// search path.
	Relation(ctx context.Context, schema, name string) (*Relation, error)
	RelationByOID(ctx context.Context, oid domain.OID) (*Relation, error)
	// Tables lists ordinary tables outside the system schemas.
	Tables(ctx context.Context) ([]*Relation, error)
	Namespace(ctx context.Context, name string) (domain.OID, error)
	// FunctionOverloads lists every function with the given name in a
	// namespace, ordered by OID.
	FunctionOverloads(ctx context.Context, namespace domain.OID, name string) ([]domain.OID, error)
	// Function resolves a function signature such as "anon.fake(int)".
	Function(ctx context.Context, signature string) (domain.OID, error)
	Role(ctx context.Context, name string) (domain.OID, error)
	CurrentDatabase(ctx context.Context) (domain.OID, error)
	// Database resolves a database name, which must be the current
	// database. An empty name means the current database.
	Database(ctx context.Context, name string) (domain.OID, error)
}
