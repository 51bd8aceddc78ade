package catalog

import (
	"context"
	"sort"
	"sync"

	"pganon/internal/domain"
)

// Well-known OIDs shared with PostgreSQL.
const (
	PGCatalogNamespace domain.OID = 11
	PublicNamespace    domain.OID = 2200
	firstUserOID       domain.OID = 16384
)

type memFunction struct {
	oid       domain.OID
	namespace domain.OID
	name      string
	signature string
}

type relKey struct {
	namespace domain.OID
	name      string
}

// Memory is an in-process catalog used in offline mode and tests. Objects
// get OIDs in creation order starting at the first user OID.
type Memory struct {
	mu         sync.RWMutex
	nextOID    domain.OID
	database   domain.OID
	dbName     string
	namespaces map[string]domain.OID
	relations  map[domain.OID]*Relation
	byName     map[relKey]domain.OID
	functions  []memFunction
	roles      map[string]domain.OID
	searchPath []string
}

var _ Reader = (*Memory)(nil)

// NewMemory creates a catalog holding the pg_catalog and public schemas.
func NewMemory() *Memory {
	m := &Memory{
		nextOID: firstUserOID,
		namespaces: map[string]domain.OID{
			"pg_catalog": PGCatalogNamespace,
			"public":     PublicNamespace,
		},
		relations:  make(map[domain.OID]*Relation),
		byName:     make(map[relKey]domain.OID),
		roles:      make(map[string]domain.OID),
		searchPath: []string{"pg_catalog", "public"},
		dbName:     "postgres",
	}
	m.database = m.allocate()
	return m
}

func (m *Memory) allocate() domain.OID {
	oid := m.nextOID
	m.nextOID++
	return oid
}

// SetSearchPath replaces the schemas searched for unqualified names.
// pg_catalog is always searched first.
func (m *Memory) SetSearchPath(schemas ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchPath = append([]string{"pg_catalog"}, schemas...)
}

// SetDatabaseName renames the current database.
func (m *Memory) SetDatabaseName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbName = name
}

// AddNamespace creates a schema, or returns the existing one.
func (m *Memory) AddNamespace(name string) domain.OID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if oid, ok := m.namespaces[name]; ok {
		return oid
	}
	oid := m.allocate()
	m.namespaces[name] = oid
	return oid
}

// AddRelation creates a relation. Columns with a zero Attnum are numbered
// after the previous column; explicit attnums leave gaps for dropped columns.
func (m *Memory) AddRelation(schema, name string, kind RelationKind, columns []Column) *Relation {
	ns := m.AddNamespace(schema)

	m.mu.Lock()
	defer m.mu.Unlock()
	cols := make([]Column, len(columns))
	var last int16
	for i, c := range columns {
		if c.Attnum == 0 {
			c.Attnum = last + 1
		}
		last = c.Attnum
		cols[i] = c
	}
	rel := &Relation{
		OID:       m.allocate(),
		Namespace: ns,
		Schema:    schema,
		Name:      name,
		Kind:      kind,
		Columns:   cols,
	}
	m.relations[rel.OID] = rel
	m.byName[relKey{namespace: ns, name: name}] = rel.OID
	return rel
}

// AddFunction creates a function overload identified by signature.
func (m *Memory) AddFunction(schema, name, signature string) domain.OID {
	ns := m.AddNamespace(schema)

	m.mu.Lock()
	defer m.mu.Unlock()
	oid := m.allocate()
	m.functions = append(m.functions, memFunction{oid: oid, namespace: ns, name: name, signature: signature})
	return oid
}

// AddRole creates a role.
func (m *Memory) AddRole(name string) domain.OID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if oid, ok := m.roles[name]; ok {
		return oid
	}
	oid := m.allocate()
	m.roles[name] = oid
	return oid
}

// Relation implements Reader.
func (m *Memory) Relation(_ context.Context, schema, name string) (*Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schemas := m.searchPath
	if schema != "" {
		schemas = []string{schema}
	}
	for _, s := range schemas {
		ns, ok := m.namespaces[s]
		if !ok {
			continue
		}
		if oid, ok := m.byName[relKey{namespace: ns, name: name}]; ok {
			return m.relations[oid], nil
		}
	}
	if schema != "" {
		return nil, domain.ErrNotFound("relation %s.%s does not exist", schema, name)
	}
	return nil, domain.ErrNotFound("relation %s does not exist", name)
}

// RelationByOID implements Reader.
func (m *Memory) RelationByOID(_ context.Context, oid domain.OID) (*Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relations[oid]
	if !ok {
		return nil, domain.ErrNotFound("relation with OID %d does not exist", oid)
	}
	return rel, nil
}

// Tables implements Reader.
func (m *Memory) Tables(_ context.Context) ([]*Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relation
	for _, rel := range m.relations {
		if rel.Kind == KindTable && !IsSystemSchema(rel.Schema) {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out, nil
}

// Namespace implements Reader.
func (m *Memory) Namespace(_ context.Context, name string) (domain.OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oid, ok := m.namespaces[name]
	if !ok {
		return 0, domain.ErrNotFound("schema %q does not exist", name)
	}
	return oid, nil
}

// FunctionOverloads implements Reader.
func (m *Memory) FunctionOverloads(_ context.Context, namespace domain.OID, name string) ([]domain.OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.OID
	for _, f := range m.functions {
		if f.namespace == namespace && f.name == name {
			out = append(out, f.oid)
		}
	}
	return out, nil
}

// Function implements Reader.
func (m *Memory) Function(_ context.Context, signature string) (domain.OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.functions {
		if f.signature == signature {
			return f.oid, nil
		}
	}
	return 0, domain.ErrNotFound("function %s does not exist", signature)
}

// Role implements Reader.
func (m *Memory) Role(_ context.Context, name string) (domain.OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oid, ok := m.roles[name]
	if !ok {
		return 0, domain.ErrNotFound("role %q does not exist", name)
	}
	return oid, nil
}

// CurrentDatabase implements Reader.
func (m *Memory) CurrentDatabase(_ context.Context) (domain.OID, error) {
	return m.database, nil
}

// Database implements Reader.
func (m *Memory) Database(_ context.Context, name string) (domain.OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name != "" && name != m.dbName {
		return 0, domain.ErrNotFound("database %q is not the current database", name)
	}
	return m.database, nil
}
