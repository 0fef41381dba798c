// Package filestore implements store.TableStore over a directory of files
// named by a templated path pattern, adapted from the original Python
// implementation's TableStoreFiledir (original_source/datapipe/store/filedir.py):
// a pattern like "data/{region}/{id}.json" maps one PK tuple to one file,
// and a pattern containing "*" is read-only, since a glob wildcard cannot
// be reversed into a PK value to write back to.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

var placeholderRe = regexp.MustCompile(`\{([^/{}]+)\}`)

// Store maps PK tuples to individual JSON files under Pattern, a path
// template using "{field}" placeholders for each PK column, in the order
// they appear.
type Store struct {
	Pattern   string
	Schema    []store.Column
	Columns   []string // PK columns followed by payload columns
	attrNames []string
	readOnly  bool
}

// New builds a filestore.Store. readOnly is inferred from the pattern
// (true if it contains "*") unless the caller forces it with forceReadOnly.
func New(pattern string, schema []store.Column, columns []string, forceReadOnly *bool) (*Store, error) {
	names := placeholderRe.FindAllStringSubmatch(pattern, -1)
	if len(names) == 0 {
		return nil, fmt.Errorf("filestore: pattern %q has no {field} placeholders", pattern)
	}
	attrNames := make([]string, len(names))
	for i, n := range names {
		attrNames[i] = n[1]
	}

	readOnly := strings.Contains(pattern, "*")
	if forceReadOnly != nil {
		readOnly = *forceReadOnly
	}

	return &Store{Pattern: pattern, Schema: schema, Columns: columns, attrNames: attrNames, readOnly: readOnly}, nil
}

func (s *Store) PrimarySchema() []store.Column { return s.Schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

func (s *Store) pathFor(pk []any) (string, error) {
	if len(pk) != len(s.attrNames) {
		return "", fmt.Errorf("filestore: pk has %d values, pattern has %d placeholders", len(pk), len(s.attrNames))
	}
	path := s.Pattern
	for i, name := range s.attrNames {
		path = strings.Replace(path, "{"+name+"}", fmt.Sprintf("%v", pk[i]), 1)
	}
	return path, nil
}

func (s *Store) globPattern() string {
	return placeholderRe.ReplaceAllString(s.Pattern, "*")
}

// matchAttrs extracts PK values from a concrete path by replaying the
// pattern's literal segments, assuming the pattern's placeholders don't
// themselves contain path separators.
func (s *Store) matchAttrs(path string) ([]any, bool) {
	matchPattern := "^" + regexp.QuoteMeta(s.Pattern) + "$"
	for _, name := range s.attrNames {
		matchPattern = strings.Replace(matchPattern, regexp.QuoteMeta("{"+name+"}"), `([^/]+)`, 1)
	}
	re, err := regexp.Compile(matchPattern)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	pk := make([]any, len(s.attrNames))
	for i := range s.attrNames {
		pk[i] = m[i+1]
	}
	return pk, true
}

func (s *Store) readOne(path string) (map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	return obj, true, nil
}

func (s *Store) rowFrom(pk []any, obj map[string]any) []any {
	row := append([]any{}, pk...)
	for _, col := range s.Columns[len(s.Schema):] {
		row = append(row, obj[col])
	}
	return row
}

// ReadRows reads the files named by idx's PK tuples, or (when idx is nil)
// globs the pattern directory for every matching file.
func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	out := frame.New(s.Columns, len(s.Schema))

	if idx == nil {
		matches, err := filepath.Glob(s.globPattern())
		if err != nil {
			return nil, fmt.Errorf("filestore: glob %q: %w", s.globPattern(), err)
		}
		for _, path := range matches {
			pk, ok := s.matchAttrs(path)
			if !ok {
				continue
			}
			obj, found, err := s.readOne(path)
			if err != nil {
				return nil, err
			}
			if found {
				out.Rows = append(out.Rows, s.rowFrom(pk, obj))
			}
		}
		return out, nil
	}

	for i := 0; i < idx.Len(); i++ {
		pk := idx.Rows[i]
		path, err := s.pathFor(pk)
		if err != nil {
			return nil, err
		}
		obj, found, err := s.readOne(path)
		if err != nil {
			return nil, err
		}
		if found {
			out.Rows = append(out.Rows, s.rowFrom(pk, obj))
		}
	}
	return out, nil
}

func (s *Store) writeRow(row []any) error {
	pk := row[:len(s.Schema)]
	path, err := s.pathFor(pk)
	if err != nil {
		return err
	}
	obj := map[string]any{}
	for i, col := range s.Columns[len(s.Schema):] {
		obj[col] = row[len(s.Schema)+i]
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	for _, row := range df.Rows {
		if err := s.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	return s.InsertRows(ctx, df)
}

func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	for i := 0; i < idx.Len(); i++ {
		path, err := s.pathFor(idx.Rows[i])
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("filestore: remove %s: %w", path, err)
		}
	}
	return nil
}
