// Package masking turns masking rules into SQL: per-column substitute
// expressions, table sampling clauses and the masking subquery that stands in
// for a relation.
package masking

import (
	"context"
	"errors"

	"pganon/internal/domain"
	"pganon/internal/label"
	"pganon/internal/rule"
)

type memoKey struct {
	ref    domain.ObjectRef
	policy string
}

// Resolver reads and parses labels, memoizing each (object, policy) pair.
// A Resolver lives for one rewrite pass and is not safe for concurrent use.
type Resolver struct {
	store label.Store
	memo  map[memoKey]rule.Rule
}

// NewResolver creates a resolver for one pass.
func NewResolver(store label.Store) *Resolver {
	return &Resolver{store: store, memo: make(map[memoKey]rule.Rule)}
}

// Rule returns the parsed rule of an object in a policy. A missing object or
// missing label yields rule.None.
func (r *Resolver) Rule(ctx context.Context, ref domain.ObjectRef, policy string) (rule.Rule, error) {
	key := memoKey{ref: ref, policy: policy}
	if cached, ok := r.memo[key]; ok {
		return cached, nil
	}
	text, ok, err := r.store.Label(ctx, ref, policy)
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
		ok = false
	case err != nil:
		return rule.None, err
	}
	parsed := rule.None
	if ok {
		parsed = rule.Parse(text)
	}
	r.memo[key] = parsed
	return parsed, nil
}
