package step

import (
	"context"
	"errors"
	"testing"

	"github.com/malbeclabs/pipelake/internal/catalog"
	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/planner"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/memstore"
)

func newTable(cols []string, pkColumns []string, readOnly bool) *catalog.DataTable {
	schema := make([]store.Column, len(pkColumns))
	for i, c := range pkColumns {
		schema[i] = store.Column{Name: c, Type: store.ColumnText}
	}
	data := memstore.New(schema, cols, readOnly)
	meta := memstore.New(schema, metastore.MetaColumns(pkColumns), false)
	return &catalog.DataTable{
		Name:      "t",
		PKColumns: pkColumns,
		Data:      data,
		Meta:      metastore.NewRowMetaTable(pkColumns, meta),
	}
}

func newStep(t *testing.T, in, out *catalog.DataTable, fn TransformFunc) *Step {
	t.Helper()
	in.Name = "src"
	out.Name = "dst"

	tmSchema := []store.Column{{Name: "id", Type: store.ColumnText}}
	tmStore := memstore.New(tmSchema, metastore.TransformMetaColumns([]string{"id"}), false)
	tm := metastore.NewTransformMetaTable([]string{"id"}, tmStore)

	p, err := planner.New([]planner.Input{{Name: in.Name, PKColumns: in.PKColumns, Meta: in.Meta}}, []string{"id"}, tm, 10)
	if err != nil {
		t.Fatal(err)
	}

	return &Step{
		DeclaredName:  "double",
		Inputs:        []*catalog.DataTable{in},
		Outputs:       []*catalog.DataTable{out},
		TransformKeys: []string{"id"},
		Transform:     fn,
		Planner:       p,
		TransformMeta: tm,
	}
}

func TestProcessBatchTransformsAndPropagatesChanges(t *testing.T) {
	in := newTable([]string{"id", "val"}, []string{"id"}, false)
	out := newTable([]string{"id", "val"}, []string{"id"}, false)

	ctx := context.Background()
	src := frame.New([]string{"id", "val"}, 1)
	src.Rows = [][]any{{"0", 1}}
	if _, err := in.StoreChunk(ctx, src, nil, 100); err != nil {
		t.Fatal(err)
	}

	transform := func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
		f := frame.New([]string{"id", "val"}, 1)
		for _, row := range inputs[0].Rows {
			v := row[1].(int)
			f.Rows = append(f.Rows, []any{row[0], v * 2})
		}
		return []*frame.Frame{f}, nil
	}
	s := newStep(t, in, out, transform)

	cl, err := s.RunFull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cl.IsEmpty() {
		t.Fatalf("expected the change list to record the written output row")
	}
	stored, err := out.Data.ReadRows(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 1 || stored.Rows[0][1] != 2 {
		t.Fatalf("expected transformed row {0,2}, got %+v", stored.Rows)
	}
}

func TestProcessBatchRecordsTransformFailureAndContinues(t *testing.T) {
	in := newTable([]string{"id", "val"}, []string{"id"}, false)
	out := newTable([]string{"id", "val"}, []string{"id"}, false)

	ctx := context.Background()
	src := frame.New([]string{"id", "val"}, 1)
	src.Rows = [][]any{{"0", 1}, {"1", 2}}
	if _, err := in.StoreChunk(ctx, src, nil, 100); err != nil {
		t.Fatal(err)
	}

	calls := 0
	transform := func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
		calls++
		return nil, errors.New("boom")
	}
	s := newStep(t, in, out, transform)

	cl, err := s.RunFull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cl.IsEmpty() {
		t.Fatalf("a failed batch should not contribute to the change list")
	}

	rows, err := s.TransformMeta.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.IsSuccess {
			t.Fatalf("expected is_success=false after a transform error")
		}
		if r.Error == nil {
			t.Fatalf("expected an error message recorded")
		}
	}

	cl2, err := s.RunFull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cl2.IsEmpty() {
		t.Fatalf("expected the planner to re-emit failed rows on the next run")
	}
}

func TestProcessBatchDeletesOutputWhenInputsAllEmpty(t *testing.T) {
	in := newTable([]string{"id", "val"}, []string{"id"}, false)
	out := newTable([]string{"id", "val"}, []string{"id"}, false)

	ctx := context.Background()
	src := frame.New([]string{"id", "val"}, 1)
	src.Rows = [][]any{{"0", 1}}
	if _, err := in.StoreChunk(ctx, src, nil, 100); err != nil {
		t.Fatal(err)
	}

	passthrough := func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
		return []*frame.Frame{inputs[0]}, nil
	}
	s := newStep(t, in, out, passthrough)

	if _, err := s.RunFull(ctx); err != nil {
		t.Fatal(err)
	}
	stored, err := out.Data.ReadRows(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 1 {
		t.Fatalf("expected 1 row written by the first run")
	}

	// Row 0 disappears from the source entirely.
	idx := frame.New([]string{"id"}, 1)
	idx.Rows = [][]any{{"0"}}
	if err := in.DeleteByIdx(ctx, idx, 200); err != nil {
		t.Fatal(err)
	}

	cl, err := s.RunChangeList(ctx, changeListFor("src", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if cl.IsEmpty() {
		t.Fatalf("expected a change list entry for the deleted output row")
	}

	stored, err = out.Data.ReadRows(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 0 {
		t.Fatalf("expected output row to be deleted once its only input vanished")
	}
}

func TestNewInfersTransformKeysFromCommonPK(t *testing.T) {
	in := newTable([]string{"id", "val"}, []string{"id"}, false)
	out := newTable([]string{"id", "val"}, []string{"id"}, false)
	in.Name, out.Name = "src", "dst"

	tmSchema := []store.Column{{Name: "id", Type: store.ColumnText}}
	tmStore := memstore.New(tmSchema, metastore.TransformMetaColumns([]string{"id"}), false)
	tm := metastore.NewTransformMetaTable([]string{"id"}, tmStore)

	s, err := New("passthrough", []*catalog.DataTable{in}, []*catalog.DataTable{out}, nil, tm, 10,
		func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
			return []*frame.Frame{inputs[0]}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.TransformKeys) != 1 || s.TransformKeys[0] != "id" {
		t.Fatalf("expected inferred transform keys [id], got %v", s.TransformKeys)
	}
}

func changeListFor(table string, pk ...any) *changelist.ChangeList {
	cl := changelist.New()
	cl.Append(table, frame.KeyString(pk), pk)
	return cl
}
