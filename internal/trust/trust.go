// Package trust decides whether a masking function may run: every call in a
// masking expression must be schema-qualified and trusted, either by an
// explicit TRUSTED label on the function or by a TRUSTED schema.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/masking"
	"pganon/internal/pgsql"
	"pganon/internal/rule"
)

// MaxDepth bounds how deeply function calls may nest in a masking expression.
const MaxDepth = 32

// Reason classifies a trust failure.
type Reason int

// Trust failure reasons.
const (
	SchemaNotTrusted Reason = iota + 1
	FunctionUntrusted
	FunctionUnqualified
)

func (r Reason) String() string {
	switch r {
	case SchemaNotTrusted:
		return "schema_not_trusted"
	case FunctionUntrusted:
		return "function_untrusted"
	case FunctionUnqualified:
		return "function_unqualified"
	}
	return "unknown"
}

// Error reports why a call was rejected.
type Error struct {
	Reason Reason
	Call   string
}

func (e *Error) Error() string {
	switch e.Reason {
	case SchemaNotTrusted:
		return fmt.Sprintf("%s does not belong in a TRUSTED schema", e.Call)
	case FunctionUntrusted:
		return fmt.Sprintf("%s is UNTRUSTED", e.Call)
	case FunctionUnqualified:
		return fmt.Sprintf("%s is not qualified", e.Call)
	}
	return e.Call + " is not trusted"
}

// State is the trust verdict of a function.
type State int

// Trust states.
const (
	Unknown State = iota
	Trusted
	Untrusted
)

// Fold reduces the labels of every overload of a function to one verdict.
// Any UNTRUSTED overload makes the function untrusted and stops the fold.
func Fold(labels []string) State {
	state := Unknown
	for _, l := range labels {
		switch rule.Parse(l).Kind {
		case rule.KindUntrusted:
			return Untrusted
		case rule.KindTrusted:
			state = Trusted
		}
	}
	return state
}

// Verifier checks masking function calls against catalog labels.
type Verifier struct {
	catalog  catalog.Reader
	resolver *masking.Resolver
	restrict bool
}

// NewVerifier creates a verifier. When restrict is false every well-formed
// call is accepted.
func NewVerifier(cat catalog.Reader, resolver *masking.Resolver, restrict bool) *Verifier {
	return &Verifier{catalog: cat, resolver: resolver, restrict: restrict}
}

// CheckFunction parses call and verifies every nested call in pre-order.
// It returns an *Error for trust failures and a *domain.InvalidInputError
// when call is not a function call.
func (v *Verifier) CheckFunction(ctx context.Context, call, policy string) error {
	node, err := pgsql.ParseExpression(call)
	if err != nil {
		return domain.ErrInvalidInput("%s is not a valid function call", call)
	}
	if node.GetFuncCall() == nil {
		return domain.ErrInvalidInput("%s is not a function", call)
	}
	if !v.restrict {
		return nil
	}
	return v.walk(ctx, node, policy, 0)
}

// walk checks every call under node. depth counts the function calls
// enclosing node; operators, casts and lists do not add to it.
func (v *Verifier) walk(ctx context.Context, node *pg_query.Node, policy string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fc := node.GetFuncCall(); fc != nil {
		if depth++; depth > MaxDepth {
			return domain.ErrInvalidInput("function calls are nested deeper than %d levels", MaxDepth)
		}
		if err := v.checkCall(ctx, fc, policy); err != nil {
			return err
		}
	}
	for _, child := range pgsql.Children(node) {
		if err := v.walk(ctx, child, policy, depth); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) checkCall(ctx context.Context, fc *pg_query.FuncCall, policy string) error {
	names := pgsql.FuncName(fc)
	display := displayName(names)
	if len(names) != 2 {
		return &Error{Reason: FunctionUnqualified, Call: display}
	}
	schema, name := names[0], names[1]

	ns, err := v.catalog.Namespace(ctx, schema)
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return &Error{Reason: SchemaNotTrusted, Call: display}
	}
	if err != nil {
		return err
	}
	overloads, err := v.catalog.FunctionOverloads(ctx, ns, name)
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(overloads))
	for _, oid := range overloads {
		r, err := v.resolver.Rule(ctx, domain.FunctionRef(oid), policy)
		if err != nil {
			return err
		}
		labels = append(labels, r.Text)
	}

	switch Fold(labels) {
	case Trusted:
		return nil
	case Untrusted:
		return &Error{Reason: FunctionUntrusted, Call: display}
	}
	return v.checkNamespace(ctx, ns, display, policy)
}

func (v *Verifier) checkNamespace(ctx context.Context, ns domain.OID, display, policy string) error {
	r, err := v.resolver.Rule(ctx, domain.NamespaceRef(ns), policy)
	if err != nil {
		return err
	}
	if r.Kind == rule.KindTrusted {
		return nil
	}
	return &Error{Reason: SchemaNotTrusted, Call: display}
}

func displayName(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgsql.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ".")
}
