// Package policy enumerates masking policies and resolves which policy, if
// any, masks a role.
package policy

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samber/lo"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/label"
	"pganon/internal/rule"
)

// ParseList turns the comma-separated policy setting into the ordered policy
// list: the default policy first, then the configured names, trimmed, with
// empty tokens and duplicates dropped.
func ParseList(raw string) []string {
	names := []string{domain.DefaultPolicy}
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			names = append(names, tok)
		}
	}
	return lo.Uniq(names)
}

// Registry holds the policy list and provides thread-safe lookup.
type Registry struct {
	mu       sync.RWMutex
	policies []string
	catalog  catalog.Reader
	labels   label.Store
}

// NewRegistry creates a registry from the raw policy setting.
func NewRegistry(raw string, cat catalog.Reader, labels label.Store) *Registry {
	return &Registry{policies: ParseList(raw), catalog: cat, labels: labels}
}

// Reload replaces the configured policies. The default policy cannot be
// removed.
func (r *Registry) Reload(raw string) {
	list := ParseList(raw)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = list
}

// List returns the policies in resolution order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.policies...)
}

// Has reports whether a policy is declared.
func (r *Registry) Has(name string) bool {
	return lo.Contains(r.List(), name)
}

// MaskingPolicyOf returns the first policy in which the role is labeled
// MASKED. Membership in masked roles is not inherited.
func (r *Registry) MaskingPolicyOf(ctx context.Context, role domain.OID) (string, bool, error) {
	ref := domain.RoleRef(role)
	for _, p := range r.List() {
		text, ok, err := r.labels.Label(ctx, ref, p)
		if err != nil {
			return "", false, err
		}
		if ok && rule.IsMasked(text) {
			return p, true, nil
		}
	}
	return "", false, nil
}

// MaskingPolicyOfRole resolves a role by name first. Unknown roles are not
// masked.
func (r *Registry) MaskingPolicyOfRole(ctx context.Context, name string) (string, bool, error) {
	oid, err := r.catalog.Role(ctx, name)
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return r.MaskingPolicyOf(ctx, oid)
}
