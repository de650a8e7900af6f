package document

import (
	"slices"
	"testing"
	"time"
)

func TestID(t *testing.T) {
	t.Run("NewID", func(t *testing.T) {
		t.Run("strictly increasing", func(t *testing.T) {
			ids := make([]ID, 5000)
			for i := range ids {
				ids[i] = NewID()
			}
			for i := 1; i < len(ids); i++ {
				if ids[i] <= ids[i-1] {
					t.Fatalf("ID[%d] = %d <= ID[%d] = %d", i, ids[i], i-1, ids[i-1])
				}
			}
		})

		t.Run("encoding sorts like value", func(t *testing.T) {
			ids := make([]string, 1000)
			for i := range ids {
				ids[i] = NewID().String()
			}
			if !slices.IsSorted(ids) {
				t.Error("encoded IDs are not lexicographically sorted in generation order")
			}
		})

		t.Run("time is close to now", func(t *testing.T) {
			before := time.Now().Add(-time.Second)
			got := NewID().Time()
			if got.Before(before) || got.After(time.Now().Add(time.Second)) {
				t.Errorf("Time() = %v, want close to now", got)
			}
		})
	})

	t.Run("String", func(t *testing.T) {
		tests := []struct {
			name string
			id   ID
			want string
		}{
			{"zero", 0, "-----------"},
			{"one", 1, "----------0"},
			{"max", ID(^uint64(0)), "Ezzzzzzzzzz"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.id.String(); got != tt.want {
					t.Errorf("String() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("ParseID", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			for range 100 {
				id := NewID()
				got, err := ParseID(id.String())
				if err != nil {
					t.Fatal(err)
				}
				if got != id {
					t.Fatalf("ParseID(%q) = %d, want %d", id.String(), got, id)
				}
			}
		})

		t.Run("invalid", func(t *testing.T) {
			for _, s := range []string{"", "short", "-----------x", "----------!", "zzzzzzzzzzz", "é----------"} {
				if _, err := ParseID(s); err == nil {
					t.Errorf("ParseID(%q) succeeded, want error", s)
				}
			}
		})
	})
}
