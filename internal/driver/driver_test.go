package driver

import (
	"context"
	"testing"

	"github.com/malbeclabs/pipelake/internal/catalog"
	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/planner"
	"github.com/malbeclabs/pipelake/internal/step"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/memstore"
)

func newChainTable(t *testing.T, name string) *catalog.DataTable {
	t.Helper()
	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	data := memstore.New(schema, []string{"id", "val"}, false)
	meta := memstore.New(schema, metastore.MetaColumns([]string{"id"}), false)
	return &catalog.DataTable{Name: name, PKColumns: []string{"id"}, Data: data, Meta: metastore.NewRowMetaTable([]string{"id"}, meta)}
}

func incrementStep(t *testing.T, name string, in, out *catalog.DataTable) *step.Step {
	t.Helper()
	tmSchema := []store.Column{{Name: "id", Type: store.ColumnText}}
	tmStore := memstore.New(tmSchema, metastore.TransformMetaColumns([]string{"id"}), false)
	tm := metastore.NewTransformMetaTable([]string{"id"}, tmStore)
	p, err := planner.New([]planner.Input{{Name: in.Name, PKColumns: in.PKColumns, Meta: in.Meta}}, []string{"id"}, tm, 100)
	if err != nil {
		t.Fatal(err)
	}
	transform := func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
		f := frame.New([]string{"id", "val"}, 1)
		for _, row := range inputs[0].Rows {
			v := row[1].(int)
			f.Rows = append(f.Rows, []any{row[0], v + 1})
		}
		return []*frame.Frame{f}, nil
	}
	return &step.Step{
		DeclaredName:  name,
		Inputs:        []*catalog.DataTable{in},
		Outputs:       []*catalog.DataTable{out},
		TransformKeys: []string{"id"},
		Transform:     transform,
		Planner:       p,
		TransformMeta: tm,
	}
}

func TestRunStepsChangeListCascadesThreeSteps(t *testing.T) {
	a := newChainTable(t, "a")
	b := newChainTable(t, "b")
	c := newChainTable(t, "c")
	d := newChainTable(t, "d")

	ctx := context.Background()
	src := frame.New([]string{"id", "val"}, 1)
	src.Rows = [][]any{{"0", 1}}
	if _, err := a.StoreChunk(ctx, src, nil, 100); err != nil {
		t.Fatal(err)
	}

	stepAB := incrementStep(t, "a_to_b", a, b)
	stepBC := incrementStep(t, "b_to_c", b, c)
	stepCD := incrementStep(t, "c_to_d", c, d)

	seed := changelist.New()
	seed.Append("a", frame.KeyString([]any{"0"}), []any{"0"})

	drv := New(nil, nil)
	if err := drv.RunStepsChangeList(ctx, []*step.Step{stepAB, stepBC, stepCD}, seed); err != nil {
		t.Fatal(err)
	}

	stored, err := d.Data.ReadRows(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 1 {
		t.Fatalf("expected the change to cascade all the way to d, got %d rows", stored.Len())
	}
	if stored.Rows[0][1] != 4 {
		t.Fatalf("expected val to be incremented 3 times (1 -> 4), got %v", stored.Rows[0][1])
	}
}

func TestRunStepsRunsInCallerOrder(t *testing.T) {
	a := newChainTable(t, "a")
	b := newChainTable(t, "b")

	ctx := context.Background()
	src := frame.New([]string{"id", "val"}, 1)
	src.Rows = [][]any{{"0", 1}, {"1", 2}}
	if _, err := a.StoreChunk(ctx, src, nil, 100); err != nil {
		t.Fatal(err)
	}

	stepAB := incrementStep(t, "a_to_b", a, b)
	drv := New(nil, nil)
	if err := drv.RunSteps(ctx, []*step.Step{stepAB}); err != nil {
		t.Fatal(err)
	}

	stored, err := b.Data.ReadRows(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 2 {
		t.Fatalf("expected both rows transformed, got %d", stored.Len())
	}
}
