// Package fixture loads a YAML description of schemas, tables, functions,
// roles and their masking labels into the in-memory catalog and label store.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/label"
)

// Labels maps a provider (masking policy) to label text.
type Labels map[string]string

// File is the YAML document.
type File struct {
	SearchPath   []string   `yaml:"search_path"`
	DatabaseName string     `yaml:"database_name"`
	Database     Labels     `yaml:"database"`
	Roles        []Named    `yaml:"roles"`
	Schemas      []Named    `yaml:"schemas"`
	Functions    []Function `yaml:"functions"`
	Tables       []Table    `yaml:"tables"`
}

// Named is a role or schema.
type Named struct {
	Name   string `yaml:"name"`
	Labels Labels `yaml:"labels"`
}

// Function is one function overload.
type Function struct {
	Schema    string `yaml:"schema"`
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
	Labels    Labels `yaml:"labels"`
}

// Table is a relation with its columns.
type Table struct {
	Schema  string   `yaml:"schema"`
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Labels  Labels   `yaml:"labels"`
	Columns []Column `yaml:"columns"`
}

// Column is a live column. Attnum is optional; leaving a gap models a
// dropped column.
type Column struct {
	Name      string `yaml:"name"`
	Attnum    int16  `yaml:"attnum"`
	Type      string `yaml:"type"`
	Default   string `yaml:"default"`
	Generated string `yaml:"generated"`
	Labels    Labels `yaml:"labels"`
}

// Loaded holds the populated stores.
type Loaded struct {
	Catalog *catalog.Memory
	Labels  *label.Memory
}

// LoadFile reads a fixture from disk.
func LoadFile(path string) (*Loaded, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return Load(f)
}

// Load decodes a fixture and builds the stores.
func Load(r io.Reader) (*Loaded, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return Build(doc)
}

// Build populates fresh stores from a decoded document.
func Build(doc File) (*Loaded, error) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	labels := label.NewMemory()
	if len(doc.SearchPath) > 0 {
		cat.SetSearchPath(doc.SearchPath...)
	}
	if doc.DatabaseName != "" {
		cat.SetDatabaseName(doc.DatabaseName)
	}

	db, _ := cat.CurrentDatabase(ctx)
	if err := apply(ctx, labels, domain.DatabaseRef(db), doc.Database); err != nil {
		return nil, err
	}
	labels.AddObject(domain.NamespaceRef(catalog.PGCatalogNamespace))
	labels.AddObject(domain.NamespaceRef(catalog.PublicNamespace))

	for _, r := range doc.Roles {
		if err := apply(ctx, labels, domain.RoleRef(cat.AddRole(r.Name)), r.Labels); err != nil {
			return nil, err
		}
	}
	for _, s := range doc.Schemas {
		if err := apply(ctx, labels, domain.NamespaceRef(cat.AddNamespace(s.Name)), s.Labels); err != nil {
			return nil, err
		}
	}
	for _, f := range doc.Functions {
		if f.Schema == "" || f.Name == "" {
			return nil, fmt.Errorf("function %q: schema and name are required", f.Signature)
		}
		sig := f.Signature
		if sig == "" {
			sig = f.Schema + "." + f.Name + "()"
		}
		ns := cat.AddNamespace(f.Schema)
		labels.AddObject(domain.NamespaceRef(ns))
		oid := cat.AddFunction(f.Schema, f.Name, sig)
		if err := apply(ctx, labels, domain.FunctionRef(oid), f.Labels); err != nil {
			return nil, err
		}
	}
	for _, t := range doc.Tables {
		if err := addTable(ctx, cat, labels, t); err != nil {
			return nil, err
		}
	}
	return &Loaded{Catalog: cat, Labels: labels}, nil
}

func addTable(ctx context.Context, cat *catalog.Memory, labels *label.Memory, t Table) error {
	if t.Name == "" {
		return fmt.Errorf("table without name")
	}
	schema := t.Schema
	if schema == "" {
		schema = "public"
	}
	kind := catalog.RelationKind(t.Kind)
	if kind == "" {
		kind = catalog.KindTable
	}
	cols := make([]catalog.Column, len(t.Columns))
	for i, c := range t.Columns {
		if c.Type == "" {
			return fmt.Errorf("column %s.%s: type is required", t.Name, c.Name)
		}
		cols[i] = catalog.Column{
			Name:      c.Name,
			Attnum:    c.Attnum,
			Type:      c.Type,
			Default:   c.Default,
			Generated: c.Generated,
		}
	}
	rel := cat.AddRelation(schema, t.Name, kind, cols)
	labels.AddObject(domain.NamespaceRef(rel.Namespace))
	if err := apply(ctx, labels, rel.Ref(), t.Labels); err != nil {
		return err
	}
	for i, c := range rel.Columns {
		if err := apply(ctx, labels, rel.ColumnRef(c), t.Columns[i].Labels); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, store *label.Memory, ref domain.ObjectRef, labels Labels) error {
	store.AddObject(ref)
	for provider, text := range labels {
		if err := store.SetLabel(ctx, ref, provider, &text); err != nil {
			return fmt.Errorf("label %s: %w", ref, err)
		}
	}
	return nil
}
