package index

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/query"
)

func parseDocs(t *testing.T, docs ...string) []*document.Document {
	t.Helper()
	out := make([]*document.Document, len(docs))
	for i, s := range docs {
		d, err := document.Parse([]byte(s))
		if err != nil {
			t.Fatalf("Parse(%s): %v", s, err)
		}
		out[i] = d
	}
	return out
}

func value(x any) document.Value {
	v, err := document.FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

func pks(vs ...any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = value(v).Key()
	}
	slices.Sort(out)
	return out
}

func TestIndex(t *testing.T) {
	docs := parseDocs(t,
		`{"_id":1,"name":"Joey","city":"Paris","tags":["a","b"]}`,
		`{"_id":2,"name":"Steve","city":"Paris","tags":["b"]}`,
		`{"_id":3,"name":"joey","city":"Rome"}`,
		`{"_id":4,"city":"Rome","tags":[]}`,
	)

	t.Run("Lookup", func(t *testing.T) {
		byCity, err := Build(Spec{Name: "city", Fields: []string{"city"}}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := byCity.Lookup(document.String("Paris")), pks(1, 2); !slices.Equal(got, want) {
			t.Errorf("Lookup(Paris) = %v, want %v", got, want)
		}
		if got := byCity.Lookup(document.String("Oslo")); len(got) != 0 {
			t.Errorf("Lookup(Oslo) = %v, want empty", got)
		}
		if got := byCity.Lookup(); got != nil {
			t.Errorf("Lookup() with wrong arity = %v, want nil", got)
		}
	})

	t.Run("Multikey", func(t *testing.T) {
		byTag, err := Build(Spec{Name: "tags", Fields: []string{"tags"}}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := byTag.Lookup(document.String("b")), pks(1, 2); !slices.Equal(got, want) {
			t.Errorf("Lookup(b) = %v, want %v", got, want)
		}
		whole := document.Array(document.String("a"), document.String("b"))
		if got, want := byTag.Lookup(whole), pks(1); !slices.Equal(got, want) {
			t.Errorf("Lookup([a,b]) = %v, want %v", got, want)
		}
	})

	t.Run("Compound", func(t *testing.T) {
		idx, err := Build(Spec{Name: "name_city", Fields: []string{"name", "city"}}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := idx.Lookup(document.String("Joey"), document.String("Paris")), pks(1); !slices.Equal(got, want) {
			t.Errorf("Lookup(Joey, Paris) = %v, want %v", got, want)
		}
		if got := idx.Lookup(document.String("Paris"), document.String("Joey")); len(got) != 0 {
			t.Errorf("Lookup in the wrong order = %v, want empty", got)
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		idx, err := Build(Spec{Name: "name", Fields: []string{"name"}, CaseInsensitive: true}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := idx.Lookup(document.String("JOEY")), pks(1, 3); !slices.Equal(got, want) {
			t.Errorf("Lookup(JOEY) = %v, want %v", got, want)
		}
	})

	t.Run("Unique", func(t *testing.T) {
		spec := Spec{Name: "city", Fields: []string{"city"}, Unique: true}
		if _, err := Build(spec, "_id", docs); !errors.Is(err, ErrNotUnique) {
			t.Fatalf("Build() = %v, want ErrNotUnique", err)
		}
		idx, err := Build(spec, "_id", docs[:1])
		if err != nil {
			t.Fatal(err)
		}
		if err := idx.Insert(docs[1]); !errors.Is(err, ErrNotUnique) {
			t.Fatalf("Insert() = %v, want ErrNotUnique", err)
		}
		if got, want := idx.Lookup(document.String("Paris")), pks(1); !slices.Equal(got, want) {
			t.Errorf("failed insert changed the index: %v", got)
		}
		// Re-inserting the same document is not a violation.
		if err := idx.Insert(docs[0]); err != nil {
			t.Errorf("Insert(same) = %v", err)
		}
	})

	t.Run("UniqueSkipsNull", func(t *testing.T) {
		nulls := parseDocs(t, `{"_id":1,"email":null}`, `{"_id":2,"email":null}`, `{"_id":3,"email":[null,"a@b"]}`)
		idx, err := Build(Spec{Name: "email", Fields: []string{"email"}, Unique: true}, "_id", nulls)
		if err != nil {
			t.Fatal(err)
		}
		if got := idx.Lookup(document.Null()); len(got) != 0 {
			t.Errorf("Lookup(null) = %v", got)
		}
		if got, want := idx.Lookup(document.String("a@b")), pks(3); !slices.Equal(got, want) {
			t.Errorf("Lookup(a@b) = %v", got)
		}
		plain, err := Build(Spec{Name: "email", Fields: []string{"email"}}, "_id", nulls)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := plain.Lookup(document.Null()), pks(1, 2, 3); !slices.Equal(got, want) {
			t.Errorf("non-unique Lookup(null) = %v", got)
		}
	})

	t.Run("Update", func(t *testing.T) {
		idx, err := Build(Spec{Name: "city", Fields: []string{"city"}, Unique: true}, "_id", parseDocs(t, `{"_id":1,"city":"Paris"}`, `{"_id":2,"city":"Rome"}`))
		if err != nil {
			t.Fatal(err)
		}
		prev := parseDocs(t, `{"_id":1,"city":"Paris"}`)[0]
		moved := parseDocs(t, `{"_id":1,"city":"Oslo"}`)[0]
		if err := idx.Update(prev, moved); err != nil {
			t.Fatal(err)
		}
		if got := idx.Lookup(document.String("Paris")); len(got) != 0 {
			t.Errorf("Lookup(Paris) after update = %v", got)
		}
		if got, want := idx.Lookup(document.String("Oslo")), pks(1); !slices.Equal(got, want) {
			t.Errorf("Lookup(Oslo) = %v, want %v", got, want)
		}
		clash := parseDocs(t, `{"_id":1,"city":"Rome"}`)[0]
		if err := idx.Update(moved, clash); !errors.Is(err, ErrNotUnique) {
			t.Fatalf("Update() = %v, want ErrNotUnique", err)
		}
		if got, want := idx.Lookup(document.String("Oslo")), pks(1); !slices.Equal(got, want) {
			t.Errorf("failed update lost the previous entry: %v", got)
		}
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		idx, err := Build(Spec{Name: "city", Fields: []string{"city"}}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		c := idx.Clone()
		c.Remove(docs[0])
		if !slices.Equal(idx.Lookup(document.String("Paris")), pks(1, 2)) {
			t.Error("Remove on the clone changed the original")
		}
		if idx.Equal(c) {
			t.Error("Equal() = true after divergence")
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, spec := range []Spec{
			{Name: "none"},
			{Name: "empty", Fields: []string{""}},
			{Name: "dup", Fields: []string{"a", "a"}},
		} {
			if _, err := Build(spec, "_id", nil); err == nil {
				t.Errorf("Build(%+v) succeeded", spec)
			}
		}
	})
}

func TestSet(t *testing.T) {
	docs := parseDocs(t, `{"_id":"a","email":"x@y","team":"red"}`, `{"_id":"b","email":"z@y","team":"red"}`)
	s, err := BuildSet([]Spec{
		{Name: "team", Fields: []string{"team"}},
		{Name: "email", Fields: []string{"email"}, Unique: true},
	}, "_id", docs)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Names(); !slices.Equal(got, []string{"team", "email"}) {
		t.Errorf("Names() = %v", got)
	}

	t.Run("InsertIsAllOrNothing", func(t *testing.T) {
		c := s.Clone()
		dup := parseDocs(t, `{"_id":"c","email":"x@y","team":"blue"}`)[0]
		if err := c.Insert(dup); !errors.Is(err, ErrNotUnique) {
			t.Fatalf("Insert() = %v, want ErrNotUnique", err)
		}
		if !c.Equal(s) {
			t.Error("failed insert left partial entries")
		}
	})

	t.Run("UpdateIsAllOrNothing", func(t *testing.T) {
		c := s.Clone()
		curr := parseDocs(t, `{"_id":"b","email":"x@y","team":"blue"}`)[0]
		if err := c.Update(docs[1], curr); !errors.Is(err, ErrNotUnique) {
			t.Fatalf("Update() = %v, want ErrNotUnique", err)
		}
		if !c.Equal(s) {
			t.Error("failed update left partial entries")
		}
	})

	t.Run("Plan", func(t *testing.T) {
		tests := []struct {
			name string
			q    query.Query
			want string
		}{
			{"eq", query.Eq("email", "x@y"), "email"},
			{"and", query.And(query.Gt("x", 1), query.Eq("team", "red")), "team"},
			{"or", query.Or(query.Eq("team", "red")), ""},
			{"uncovered", query.Eq("name", "x"), ""},
			{"uniqueNull", query.Eq("email", nil), ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				idx, _, ok := s.Plan(tt.q.Equalities())
				got := ""
				if ok {
					got = idx.Spec().Name
				}
				if got != tt.want {
					t.Errorf("Plan() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	if _, err := BuildSet([]Spec{{Name: "x", Fields: []string{"a"}}, {Name: "x", Fields: []string{"b"}}}, "_id", nil); err == nil {
		t.Error("BuildSet with duplicate names succeeded")
	}
}

// TestIndexScanEquivalence checks that an index lookup followed by the query
// predicate selects exactly the documents a full scan selects.
func TestIndexScanEquivalence(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	values := []any{"a", "b", "A", 1, 2, nil, true, []any{"a", 1}, []any{}}
	var docs []*document.Document
	for i := range 300 {
		d := document.New()
		d.Set("_id", document.Number(float64(i)))
		if rng.IntN(5) != 0 {
			d.Set("f", value(values[rng.IntN(len(values))]))
		}
		if rng.IntN(5) != 0 {
			d.Set("g", value(values[rng.IntN(len(values))]))
		}
		docs = append(docs, d)
	}
	for _, ci := range []bool{false, true} {
		s, err := BuildSet([]Spec{{Name: "fg", Fields: []string{"f", "g"}, CaseInsensitive: ci}, {Name: "f", Fields: []string{"f"}, CaseInsensitive: ci}}, "_id", docs)
		if err != nil {
			t.Fatal(err)
		}
		for _, fv := range values {
			for _, gv := range values {
				for _, q := range []query.Query{query.Eq("f", fv), query.And(query.Eq("f", fv), query.Eq("g", gv))} {
					t.Run(fmt.Sprintf("ci=%v/%s", ci, q), func(t *testing.T) {
						var want []string
						for _, d := range query.Filter(q, docs) {
							pk, _ := PrimaryKey(d, "_id")
							want = append(want, pk)
						}
						slices.Sort(want)
						idx, key, ok := s.Plan(q.Equalities())
						if !ok {
							t.Fatal("no index planned")
						}
						byPK := map[string]*document.Document{}
						for _, d := range docs {
							pk, _ := PrimaryKey(d, "_id")
							byPK[pk] = d
						}
						var got []string
						for _, pk := range idx.Lookup(key...) {
							if q.Match(byPK[pk]) {
								got = append(got, pk)
							}
						}
						if !slices.Equal(got, want) {
							t.Errorf("index = %v, scan = %v", got, want)
						}
					})
				}
			}
		}
	}
}
