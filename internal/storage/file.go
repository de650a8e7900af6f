// Package storage reads and durably writes instance files.
//
// An instance file is a JSON object mapping entity names to arrays of
// documents:
//
//	{"user":[{"_id":"...","name":"Joey"}],"comment":[]}
//
// Writes go to a shadow file in the same directory which is synced then
// renamed over the original, so a crash leaves either the old or the new
// file, never a truncated one.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/deeb/document"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrMalformed is returned when an instance file cannot be parsed.
var ErrMalformed = errors.New("malformed instance file")

// Snapshot is the decoded content of an instance file.
type Snapshot struct {
	// Names lists the entities in file order.
	Names []string
	// Tables maps an entity name to its documents in file order.
	Tables map[string][]*document.Document
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Tables: map[string][]*document.Document{}}
}

// Set replaces the documents of an entity, appending it to Names if new.
func (s *Snapshot) Set(name string, docs []*document.Document) {
	if _, ok := s.Tables[name]; !ok {
		s.Names = append(s.Names, name)
	}
	s.Tables[name] = docs
}

// Load reads the instance file at path. A missing file yields an empty
// snapshot. Load never writes.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode parses an instance file. An empty input is an empty snapshot.
func Decode(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	s := NewSnapshot()
	if len(data) == 0 {
		return s, nil
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	top := orderedmap.New[string, json.RawMessage]()
	if err := top.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	for p := top.Oldest(); p != nil; p = p.Next() {
		var docs []*document.Document
		if err := json.Unmarshal(p.Value, &docs); err != nil {
			return nil, fmt.Errorf("%w: entity %q: %w", ErrMalformed, p.Key, err)
		}
		if i := slices.Index(docs, nil); i >= 0 {
			return nil, fmt.Errorf("%w: entity %q: document %d is null", ErrMalformed, p.Key, i)
		}
		if docs == nil {
			docs = []*document.Document{}
		}
		s.Set(p.Key, docs)
	}
	return s, nil
}

// Encode writes the snapshot in file order. With indent, each document starts
// on its own line.
func (s *Snapshot) Encode(w io.Writer, indent bool) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteString(":[")
		for j, d := range s.Tables[name] {
			if j > 0 {
				buf.WriteByte(',')
			}
			b, err := d.MarshalJSON()
			if err != nil {
				return fmt.Errorf("entity %q: %w", name, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	out := buf.Bytes()
	if indent {
		var ind bytes.Buffer
		if err := json.Indent(&ind, out, "", "  "); err != nil {
			return err
		}
		ind.WriteByte('\n')
		out = ind.Bytes()
	}
	_, err := w.Write(out)
	return err
}

// WriteAtomic durably replaces the file at path with the output of write.
func WriteAtomic(path string, write func(io.Writer) error) error {
	shadow, err := WriteShadow(path, write)
	if err != nil {
		return err
	}
	if err := Replace(shadow, path); err != nil {
		_ = os.Remove(shadow)
		return err
	}
	return nil
}

// WriteShadow writes and syncs a shadow file next to path and returns its
// name. The original file is untouched.
func WriteShadow(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+shadowInfix+"*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(name)
		}
	}()
	_ = tmp.Chmod(0o644)
	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return "", err
	}
	if err := buf.Flush(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	ok = true
	return name, nil
}

// Replace atomically renames shadow over path and syncs the directory.
func Replace(shadow, path string) error {
	if err := os.Rename(shadow, path); err != nil {
		return err
	}
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isSyncUnsupported(err) {
		return err
	}
	return nil
}

const shadowInfix = ".tmp-"

// RemoveShadows deletes shadow files left next to path by an interrupted
// write and returns their names.
func RemoveShadows(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(path) + shadowInfix
	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		p := filepath.Join(filepath.Dir(path), e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}
