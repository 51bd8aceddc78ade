// Package label stores masking rules attached to catalog objects.
//
// A label is addressed by object and provider (masking policy). The store
// distinguishes an object that does not exist (NotFoundError) from an object
// that has no label in the requested policy (ok == false).
package label

import (
	"context"

	"pganon/internal/domain"
)

// Store reads labels.
type Store interface {
	Label(ctx context.Context, ref domain.ObjectRef, provider string) (text string, ok bool, err error)
}

// Writer assigns or removes labels. A nil label removes the rule.
type Writer interface {
	SetLabel(ctx context.Context, ref domain.ObjectRef, provider string, label *string) error
}

// ReadWriter is a store that can also be written.
type ReadWriter interface {
	Store
	Writer
}
