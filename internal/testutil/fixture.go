// Package testutil provides shared fixtures and fakes for tests across the
// codebase. This follows the Go convention of a shared test utility package
// (like net/http/httptest).
package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/fixture"
)

// PeopleYAML describes a small database:
//
//   - person: lastname masked with NULL, phone masked with a trusted function
//     (attnum 4 was dropped), fullname generated from firstname and lastname
//   - invoice: sampled with BERNOULLI(10), no masked column
//   - pet: no rule at all
//   - anon.config: in the engine's own schema
//   - batman is masked in "anon", robin in "devtests", alfred nowhere
const PeopleYAML = `
search_path: [public]
roles:
  - name: batman
    labels: {anon: MASKED}
  - name: robin
    labels: {devtests: MASKED}
  - name: alfred
schemas:
  - name: anon
    labels: {anon: TRUSTED}
  - name: outfit
    labels: {anon: TRUSTED}
  - name: dangerous
functions:
  - {schema: anon, name: lower, signature: "anon.lower(text)"}
  - {schema: anon, name: partial, signature: "anon.partial(text,integer,text,integer)"}
  - {schema: outfit, name: mask, signature: "outfit.mask(text)"}
  - {schema: outfit, name: mask, signature: "outfit.mask(integer)", labels: {anon: UNTRUSTED}}
  - {schema: dangerous, name: leak, signature: "dangerous.leak(text)"}
  - {schema: dangerous, name: vetted, signature: "dangerous.vetted(text)", labels: {anon: TRUSTED}}
  - {schema: pg_catalog, name: pg_ls_dir, signature: "pg_catalog.pg_ls_dir(text)"}
tables:
  - schema: public
    name: person
    columns:
      - {name: id, type: integer}
      - {name: firstname, type: "character varying(30)"}
      - name: lastname
        type: text
        labels: {anon: "MASKED WITH VALUE NULL", devtests: "NOT MASKED"}
      - name: phone
        attnum: 5
        type: text
        labels:
          anon: "MASKED WITH FUNCTION anon.partial(phone, 2, $$******$$, 2)"
          devtests: "MASKED WITH VALUE 'secret'"
      - {name: fullname, type: text, generated: "((firstname)::text || lastname)"}
  - schema: public
    name: invoice
    labels: {anon: "TABLESAMPLE BERNOULLI(10)"}
    columns:
      - {name: id, type: integer}
      - {name: amount, type: "numeric(10,2)", default: "0"}
  - schema: public
    name: pet
    columns:
      - {name: name, type: text}
  - schema: anon
    name: config
    columns:
      - {name: k, type: text, labels: {anon: "MASKED WITH VALUE NULL"}}
`

// LoadPeople builds the in-memory stores described by PeopleYAML.
func LoadPeople(t testing.TB) *fixture.Loaded {
	t.Helper()
	loaded, err := fixture.Load(strings.NewReader(PeopleYAML))
	require.NoError(t, err)
	return loaded
}

// LoadPeopleWith builds PeopleYAML extended with more entries of its tables
// list, written as YAML at the list's indentation.
func LoadPeopleWith(t testing.TB, tables string) *fixture.Loaded {
	t.Helper()
	loaded, err := fixture.Load(strings.NewReader(PeopleYAML + tables))
	require.NoError(t, err)
	return loaded
}

// Relation resolves a relation from a loaded fixture.
func Relation(t testing.TB, l *fixture.Loaded, schema, name string) *catalog.Relation {
	t.Helper()
	rel, err := l.Catalog.Relation(context.Background(), schema, name)
	require.NoError(t, err)
	return rel
}

// SetDatabaseLabel labels the fixture's database in a policy.
func SetDatabaseLabel(t testing.TB, l *fixture.Loaded, policy, text string) {
	t.Helper()
	ctx := context.Background()
	db, err := l.Catalog.CurrentDatabase(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Labels.SetLabel(ctx, domain.DatabaseRef(db), policy, &text))
}
