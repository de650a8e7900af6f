package document

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%s) failed: %v", s, err)
	}
	return d
}

func TestDocument(t *testing.T) {
	t.Run("PreservesFieldOrder", func(t *testing.T) {
		in := `{"zeta":1,"alpha":"a","mid":[1,2,{"b":true,"a":null}],"obj":{"y":1,"x":2}}`
		d := mustParse(t, in)
		out, err := json.Marshal(d)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != in {
			t.Errorf("round trip = %s, want %s", out, in)
		}
		if got := strings.Join(d.Keys(), ","); got != "zeta,alpha,mid,obj" {
			t.Errorf("Keys() = %s", got)
		}
	})

	t.Run("KeepsLargeIntegers", func(t *testing.T) {
		in := `{"a":9007199254740993,"b":[18446744073709551615,-9223372036854775808],"c":1e3}`
		d := mustParse(t, in)
		out, err := json.Marshal(d)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != in {
			t.Errorf("round trip = %s, want %s", out, in)
		}
		if d.Equal(mustParse(t, `{"a":9007199254740992,"b":[18446744073709551615,-9223372036854775808],"c":1e3}`)) {
			t.Error("documents differing past float64 precision compare equal")
		}
	})

	t.Run("ParseRejectsNonObject", func(t *testing.T) {
		for _, in := range []string{`[]`, `"x"`, `1`, ``, `{"a":`} {
			if _, err := Parse([]byte(in)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", in)
			}
		}
	})

	t.Run("EmptyArrayStaysArray", func(t *testing.T) {
		d := mustParse(t, `{"a":[]}`)
		if got := d.String(); got != `{"a":[]}` {
			t.Errorf("String() = %s", got)
		}
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		d := mustParse(t, `{"a":{"b":1}}`)
		c := d.Clone()
		if err := c.SetPath("a.b", Number(2)); err != nil {
			t.Fatal(err)
		}
		if v, _ := d.Lookup("a.b"); !v.Equal(Number(1)) {
			t.Errorf("original mutated through clone: a.b = %s", v)
		}
	})

	t.Run("EqualIgnoresOrder", func(t *testing.T) {
		a := mustParse(t, `{"x":1,"y":{"p":true,"q":"s"}}`)
		b := mustParse(t, `{"y":{"q":"s","p":true},"x":1}`)
		if !a.Equal(b) {
			t.Error("documents with reordered fields should be equal")
		}
		c := mustParse(t, `{"x":1,"y":{"p":true}}`)
		if a.Equal(c) {
			t.Error("documents with different fields should differ")
		}
	})

	t.Run("MergeSkipsNull", func(t *testing.T) {
		d := mustParse(t, `{"name":"Joey","age":10}`)
		d.Merge(mustParse(t, `{"age":11,"name":null,"city":"Paris"}`))
		if got := d.String(); got != `{"name":"Joey","age":11,"city":"Paris"}` {
			t.Errorf("Merge result = %s", got)
		}
	})

	t.Run("MergeIsShallow", func(t *testing.T) {
		d := mustParse(t, `{"address":{"city":"Paris","zip":75000}}`)
		d.Merge(mustParse(t, `{"address":{"city":"Lyon"}}`))
		if _, ok := d.Lookup("address.zip"); ok {
			t.Error("nested objects should be replaced, not deep-merged")
		}
	})

	t.Run("Stamp", func(t *testing.T) {
		d := mustParse(t, `{"name":"Joey","age":10}`)
		d.Stamp()
		if d.Keys()[0] != IDField {
			t.Errorf("identity should be first, got keys %v", d.Keys())
		}
		id, err := ParseID(d.ID())
		if err != nil {
			t.Fatalf("generated _id %q does not parse: %v", d.ID(), err)
		}
		created, ok := d.CreatedAt()
		if !ok {
			t.Fatal("missing _created_at")
		}
		if !created.Equal(id.Time()) {
			t.Errorf("_created_at %v does not match id time %v", created, id.Time())
		}
	})

	t.Run("StampKeepsExisting", func(t *testing.T) {
		d := mustParse(t, `{"_id":"custom","_created_at":"2020-01-01T00:00:00Z"}`)
		d.Stamp()
		if d.ID() != "custom" {
			t.Errorf("ID() = %q", d.ID())
		}
		created, _ := d.CreatedAt()
		if !created.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("CreatedAt() = %v", created)
		}
	})

	t.Run("From", func(t *testing.T) {
		type user struct {
			Name string `json:"name"`
			Age  int    `json:"age"`
		}
		d, err := From(user{Name: "Joey", Age: 10})
		if err != nil {
			t.Fatal(err)
		}
		if got := d.String(); got != `{"name":"Joey","age":10}` {
			t.Errorf("From(struct) = %s", got)
		}
		if _, err := From([]int{1}); err == nil {
			t.Error("From(slice) should fail")
		}
	})
}

func TestPath(t *testing.T) {
	d := mustParse(t, `{
		"name": "nick",
		"address": {"city": "Paris", "meta": {"zip": 75001}},
		"tags": ["a", "b"],
		"user": [{"name": "jones", "age": 25}, {"name": "nick", "age": 35}]
	}`)

	t.Run("Lookup", func(t *testing.T) {
		tests := []struct {
			path string
			want string
			ok   bool
		}{
			{"name", `"nick"`, true},
			{"address.city", `"Paris"`, true},
			{"address.meta.zip", `75001`, true},
			{"tags.1", `"b"`, true},
			{"tags.2", ``, false},
			{"tags.01", ``, false},
			{"user.1.age", `35`, true},
			{"user.name", ``, false},
			{"missing", ``, false},
			{"name.x", ``, false},
			{"", ``, false},
		}
		for _, tt := range tests {
			t.Run(tt.path, func(t *testing.T) {
				v, ok := d.Lookup(tt.path)
				if ok != tt.ok {
					t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
				}
				if ok && v.String() != tt.want {
					t.Errorf("Lookup(%q) = %s, want %s", tt.path, v, tt.want)
				}
			})
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		tests := []struct {
			path string
			want []string
		}{
			{"user.name", []string{`"jones"`, `"nick"`}},
			{"user.0.name", []string{`"jones"`}},
			{"tags", []string{`["a","b"]`}},
			{"address.meta.zip", []string{`75001`}},
			{"nope.x", nil},
		}
		for _, tt := range tests {
			t.Run(tt.path, func(t *testing.T) {
				got := d.Resolve(tt.path)
				if len(got) != len(tt.want) {
					t.Fatalf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
				}
				for i := range got {
					if got[i].String() != tt.want[i] {
						t.Errorf("Resolve(%q)[%d] = %s, want %s", tt.path, i, got[i], tt.want[i])
					}
				}
			})
		}
	})

	t.Run("SetPath", func(t *testing.T) {
		c := mustParse(t, `{"name":"olivia","address":null}`)
		if err := c.SetPath("address.meta.zip", Number(12222)); err != nil {
			t.Fatal(err)
		}
		if got := c.String(); got != `{"name":"olivia","address":{"meta":{"zip":12222}}}` {
			t.Errorf("SetPath result = %s", got)
		}
		if err := c.SetPath("", Null()); err == nil {
			t.Error("SetPath with empty path should fail")
		}
	})

	t.Run("DeletePath", func(t *testing.T) {
		c := d.Clone()
		if !c.DeletePath("address.meta.zip") {
			t.Error("DeletePath(address.meta.zip) = false")
		}
		if c.DeletePath("address.meta.zip") {
			t.Error("second DeletePath should report false")
		}
		if c.DeletePath("name.x") {
			t.Error("DeletePath through a scalar should report false")
		}
		if _, ok := d.Lookup("address.meta.zip"); !ok {
			t.Error("original document was modified")
		}
	})
}
