package domain

import "fmt"

// OID is a PostgreSQL object identifier.
type OID uint32

// ObjectClass identifies the catalog a labeled object lives in.
type ObjectClass string

// Object classes that can carry masking labels.
const (
	ClassRole      ObjectClass = "role"
	ClassNamespace ObjectClass = "namespace"
	ClassRelation  ObjectClass = "relation"
	ClassFunction  ObjectClass = "function"
	ClassDatabase  ObjectClass = "database"
)

// ObjectRef addresses a labeled object. SubID is the attribute number for a
// column and zero for every other object.
type ObjectRef struct {
	Class ObjectClass
	ID    OID
	SubID int32
}

func (r ObjectRef) String() string {
	if r.SubID != 0 {
		return fmt.Sprintf("%s %d.%d", r.Class, r.ID, r.SubID)
	}
	return fmt.Sprintf("%s %d", r.Class, r.ID)
}

// RoleRef references a role.
func RoleRef(id OID) ObjectRef { return ObjectRef{Class: ClassRole, ID: id} }

// NamespaceRef references a schema.
func NamespaceRef(id OID) ObjectRef { return ObjectRef{Class: ClassNamespace, ID: id} }

// TableRef references a relation as a whole.
func TableRef(id OID) ObjectRef { return ObjectRef{Class: ClassRelation, ID: id} }

// ColumnRef references one attribute of a relation.
func ColumnRef(id OID, attnum int16) ObjectRef {
	return ObjectRef{Class: ClassRelation, ID: id, SubID: int32(attnum)}
}

// FunctionRef references a single function overload.
func FunctionRef(id OID) ObjectRef { return ObjectRef{Class: ClassFunction, ID: id} }

// DatabaseRef references a database.
func DatabaseRef(id OID) ObjectRef { return ObjectRef{Class: ClassDatabase, ID: id} }

// ObjectKind is the user-facing kind of a label target. A column and its
// table share ClassRelation but accept different rules.
type ObjectKind string

// Label target kinds.
const (
	KindRole     ObjectKind = "role"
	KindSchema   ObjectKind = "schema"
	KindTable    ObjectKind = "table"
	KindColumn   ObjectKind = "column"
	KindFunction ObjectKind = "function"
	KindDatabase ObjectKind = "database"
)

// Kind returns the target kind addressed by the reference.
func (r ObjectRef) Kind() ObjectKind {
	switch r.Class {
	case ClassRole:
		return KindRole
	case ClassNamespace:
		return KindSchema
	case ClassFunction:
		return KindFunction
	case ClassDatabase:
		return KindDatabase
	case ClassRelation:
		if r.SubID != 0 {
			return KindColumn
		}
		return KindTable
	}
	return ObjectKind(r.Class)
}

// DefaultPolicy is the masking policy that always exists.
const DefaultPolicy = "anon"
