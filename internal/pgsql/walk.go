package pgsql

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Children returns the direct child nodes of n in field declaration order.
// Non-node messages on the way (aliases, type names, clauses) are descended
// into; a SelectStmt held outside a node wrapper is returned wrapped so that
// callers see every sub-statement.
func Children(n *pg_query.Node) []*pg_query.Node {
	if n == nil || n.Node == nil {
		return nil
	}
	m := n.ProtoReflect()
	fd := m.WhichOneof(m.Descriptor().Oneofs().Get(0))
	if fd == nil || fd.Kind() != protoreflect.MessageKind {
		return nil
	}
	var out []*pg_query.Node
	collect(m.Get(fd).Message(), nil, &out)
	return out
}

// FieldChildren returns the child nodes of msg, skipping the named fields.
// Field names are the protobuf names, e.g. "from_clause".
func FieldChildren(msg proto.Message, skip ...string) []*pg_query.Node {
	var skipped map[protoreflect.Name]bool
	if len(skip) > 0 {
		skipped = make(map[protoreflect.Name]bool, len(skip))
		for _, s := range skip {
			skipped[protoreflect.Name(s)] = true
		}
	}
	var out []*pg_query.Node
	collect(msg.ProtoReflect(), skipped, &out)
	return out
}

// collect iterates fields by index: Range order is unspecified and traversal
// must be deterministic.
func collect(m protoreflect.Message, skip map[protoreflect.Name]bool, out *[]*pg_query.Node) {
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() || skip[fd.Name()] || !m.Has(fd) {
			continue
		}
		if fd.IsList() {
			l := m.Get(fd).List()
			for j := 0; j < l.Len(); j++ {
				visit(l.Get(j).Message(), out)
			}
			continue
		}
		visit(m.Get(fd).Message(), out)
	}
}

func visit(m protoreflect.Message, out *[]*pg_query.Node) {
	switch v := m.Interface().(type) {
	case *pg_query.Node:
		if v.Node != nil {
			*out = append(*out, v)
		}
	case *pg_query.SelectStmt:
		*out = append(*out, &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: v}})
	default:
		collect(m, nil, out)
	}
}
