package masking

import (
	"context"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/rule"
)

// RatioForTable returns the sampling clause for a relation: the table's own
// TABLESAMPLE rule, else the database's rule in the same policy. Views and
// foreign tables are never sampled.
func (s *Synthesizer) RatioForTable(ctx context.Context, rel *catalog.Relation, policy string) (string, bool, error) {
	if !rel.Kind.Sampleable() {
		return "", false, nil
	}
	r, err := s.resolver.Rule(ctx, rel.Ref(), policy)
	if err != nil {
		return "", false, err
	}
	if r.Kind == rule.KindTablesample {
		return r.Arg, true, nil
	}

	db, err := s.catalog.CurrentDatabase(ctx)
	if err != nil {
		return "", false, err
	}
	r, err = s.resolver.Rule(ctx, domain.DatabaseRef(db), policy)
	if err != nil {
		return "", false, err
	}
	if r.Kind == rule.KindTablesample {
		return r.Arg, true, nil
	}
	return "", false, nil
}
