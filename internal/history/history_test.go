package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Open(dir, "deeb", "deeb@localhost")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "db.json")

	if got, err := r.History(ctx, path, 10); err != nil || len(got) != 0 {
		t.Fatalf("History() on an empty repo = %v, %v", got, err)
	}

	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"user":[]}`)
	if err := r.Record(ctx, path, "init"); err != nil {
		t.Fatal(err)
	}
	write(`{"user":[{"_id":"1"}]}`)
	if err := r.Record(ctx, "db.json", "insert user\n\n1 document"); err != nil {
		t.Fatal(err)
	}
	// Unchanged content does not create a commit.
	if err := r.Record(ctx, path, "noop"); err != nil {
		t.Fatal(err)
	}

	commits, err := r.History(ctx, path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2: %+v", len(commits), commits)
	}
	if commits[0].Message != "insert user" || commits[0].Body != "1 document" {
		t.Errorf("newest commit = %+v", commits[0])
	}
	if commits[1].Message != "init" {
		t.Errorf("oldest commit = %+v", commits[1])
	}

	got, err := r.FileAt(ctx, commits[1].Hash, path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"user":[]}` {
		t.Errorf("FileAt(init) = %s", got)
	}
	head, err := r.FileAt(ctx, "HEAD", "db.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(head) != `{"user":[{"_id":"1"}]}` {
		t.Errorf("FileAt(HEAD) = %s", head)
	}

	// Reopening keeps history.
	r2, err := Open(dir, "other", "other@localhost")
	if err != nil {
		t.Fatal(err)
	}
	if c, err := r2.History(ctx, "", 1); err != nil || len(c) != 1 {
		t.Errorf("History() after reopen = %v, %v", c, err)
	}

	if err := r.Record(ctx, filepath.Join(t.TempDir(), "x.json"), "outside"); !errors.Is(err, ErrOutsideRepo) {
		t.Errorf("Record(outside) = %v, want ErrOutsideRepo", err)
	}
}
