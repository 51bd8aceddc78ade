package engine

import (
	"context"

	"pganon/internal/catalog"
	"pganon/internal/domain"
)

// Target names the object a label is attached to. Name is a role, schema,
// (qualified) table, function signature or database name depending on Kind;
// Column is only used with KindColumn.
type Target struct {
	Kind   domain.ObjectKind `json:"kind"`
	Name   string            `json:"name"`
	Column string            `json:"column,omitempty"`
}

// Resolve finds the catalog object a target names.
func (e *Engine) Resolve(ctx context.Context, t Target) (domain.ObjectRef, error) {
	ref, _, err := e.resolve(ctx, t)
	return ref, err
}

// resolve also returns the relation of table and column targets.
func (e *Engine) resolve(ctx context.Context, t Target) (domain.ObjectRef, *catalog.Relation, error) {
	switch t.Kind {
	case domain.KindRole:
		oid, err := e.catalog.Role(ctx, t.Name)
		return domain.RoleRef(oid), nil, err
	case domain.KindSchema:
		oid, err := e.catalog.Namespace(ctx, t.Name)
		return domain.NamespaceRef(oid), nil, err
	case domain.KindTable:
		rel, err := e.relation(ctx, t.Name)
		if err != nil {
			return domain.ObjectRef{}, nil, err
		}
		return rel.Ref(), rel, nil
	case domain.KindColumn:
		rel, err := e.relation(ctx, t.Name)
		if err != nil {
			return domain.ObjectRef{}, nil, err
		}
		col, ok := rel.Column(t.Column)
		if !ok {
			return domain.ObjectRef{}, nil, domain.ErrNotFound("column %q of relation %s does not exist", t.Column, rel.QualifiedName())
		}
		return rel.ColumnRef(col), rel, nil
	case domain.KindFunction:
		oid, err := e.catalog.Function(ctx, t.Name)
		return domain.FunctionRef(oid), nil, err
	case domain.KindDatabase:
		oid, err := e.catalog.Database(ctx, t.Name)
		return domain.DatabaseRef(oid), nil, err
	}
	return domain.ObjectRef{}, nil, domain.ErrFeatureNotSupported("labels on %q objects are not supported", t.Kind)
}

// SetLabel validates and stores the label of a provider on a target. A nil
// label removes it.
func (e *Engine) SetLabel(ctx context.Context, t Target, providerName string, text *string) error {
	ref, rel, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	if ref.Kind() == domain.KindTable {
		err = e.validator().ValidateRelation(ctx, rel.Kind, providerName, text)
	} else {
		err = e.validator().Validate(ctx, ref.Kind(), providerName, text)
	}
	if err != nil {
		return err
	}
	if err := e.labels.SetLabel(ctx, ref, providerName, text); err != nil {
		return err
	}
	if text == nil {
		e.logger.Info("label removed", "object", ref.String(), "provider", providerName)
	} else {
		e.logger.Info("label set", "object", ref.String(), "provider", providerName, "label", *text)
	}
	return nil
}
