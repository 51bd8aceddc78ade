// Package provider validates labels before they are stored. Each masking
// policy acts as a label provider; the k-anonymity provider only accepts
// identifier markers on columns.
package provider

import (
	"context"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/rule"
	"pganon/internal/trust"
)

// Policies reports declared masking policies.
type Policies interface {
	Has(name string) bool
}

// Validator checks label text against the grammar allowed for each object
// kind.
type Validator struct {
	policies   Policies
	verifier   *trust.Verifier
	kAnonymity string
}

// NewValidator creates a validator. kAnonymity is the name of the
// k-anonymity provider.
func NewValidator(policies Policies, verifier *trust.Verifier, kAnonymity string) *Validator {
	return &Validator{policies: policies, verifier: verifier, kAnonymity: kAnonymity}
}

// Validate checks text for an object of the given kind under provider. A
// nil text removes a label and is always accepted for a known provider.
func (v *Validator) Validate(ctx context.Context, kind domain.ObjectKind, provider string, text *string) error {
	if provider == v.kAnonymity {
		return v.validateKAnonymity(kind, text)
	}
	if !v.policies.Has(provider) {
		return domain.ErrInvalidInput("'%s' is not a masking policy", provider)
	}
	if text == nil {
		return nil
	}
	r := rule.Parse(*text)

	switch kind {
	case domain.KindColumn:
		switch r.Kind {
		case rule.KindFunction:
			return v.verifier.CheckFunction(ctx, r.Arg, provider)
		case rule.KindValue:
			return trust.CheckValue(r.Arg)
		case rule.KindNotMasked:
			return nil
		}
	case domain.KindTable, domain.KindDatabase:
		if r.Kind == rule.KindTablesample {
			return trust.CheckTablesample(r.Arg)
		}
	case domain.KindRole:
		if r.Kind == rule.KindMasked {
			return nil
		}
	case domain.KindFunction:
		if r.Kind == rule.KindTrusted || r.Kind == rule.KindUntrusted {
			return nil
		}
	case domain.KindSchema:
		if r.Kind == rule.KindTrusted {
			return nil
		}
	default:
		return domain.ErrFeatureNotSupported("The '%s' provider does not support labels on %s", provider, kind)
	}
	return domain.ErrInvalidInput("'%s' is not a valid label for a %s", *text, kind)
}

// ValidateRelation checks text for a table-like relation of the given kind.
// TABLESAMPLE is refused on kinds PostgreSQL cannot sample.
func (v *Validator) ValidateRelation(ctx context.Context, kind catalog.RelationKind, provider string, text *string) error {
	if err := v.Validate(ctx, domain.KindTable, provider, text); err != nil {
		return err
	}
	if text != nil && provider != v.kAnonymity && !kind.Sampleable() && rule.Parse(*text).Kind == rule.KindTablesample {
		return domain.ErrInvalidInput("TABLESAMPLE cannot be applied to relations of kind %q", string(kind))
	}
	return nil
}

func (v *Validator) validateKAnonymity(kind domain.ObjectKind, text *string) error {
	if kind != domain.KindColumn {
		return domain.ErrFeatureNotSupported("The k-anonymity provider does not support labels on %s", kind)
	}
	if text == nil || rule.IsIndirectIdentifier(*text) {
		return nil
	}
	return domain.ErrInvalidInput("'%s' is not a valid label for a column", *text)
}
