// Package step implements a pipeline step: the per-batch state machine
// that fetches inputs, runs a user transform, stores outputs, and
// advances transform meta.
package step

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/pipelake/internal/catalog"
	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/executor"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/planner"
)

// TransformFunc is the batch-transform signature: given one frame
// per input and the step's static kwargs, return one frame per output.
// A source/generate step has zero inputs; BatchGenerate-style emission is
// modeled the same way (a TransformFunc with Inputs == nil).
type TransformFunc func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error)

// Step is one node in the pipeline graph.
type Step struct {
	DeclaredName  string
	Inputs        []*catalog.DataTable
	Outputs       []*catalog.DataTable
	TransformKeys []string
	Transform     TransformFunc
	Kwargs        map[string]any
	Labels        map[string]string

	Planner       *planner.Planner
	TransformMeta *metastore.TransformMetaTable
	Executor      executor.Executor
	Clock         clockwork.Clock
}

// New builds a Step, inferring TransformKeys when the caller leaves it
// empty: the intersection of every input's PK columns, further intersected
// with every output's PK columns when outputs are declared. An explicit
// TransformKeys always wins.
func New(declaredName string, inputs, outputs []*catalog.DataTable, transformKeys []string, tm *metastore.TransformMetaTable, chunkSize int, fn TransformFunc) (*Step, error) {
	keys := transformKeys
	if len(keys) == 0 {
		keys = inferTransformKeys(inputs, outputs)
	}

	plannerInputs := make([]planner.Input, len(inputs))
	for i, in := range inputs {
		plannerInputs[i] = planner.Input{Name: in.Name, PKColumns: in.PKColumns, Meta: in.Meta}
	}
	p, err := planner.New(plannerInputs, keys, tm, chunkSize)
	if err != nil {
		return nil, err
	}

	return &Step{
		DeclaredName:  declaredName,
		Inputs:        inputs,
		Outputs:       outputs,
		TransformKeys: keys,
		Transform:     fn,
		Planner:       p,
		TransformMeta: tm,
	}, nil
}

func inferTransformKeys(inputs, outputs []*catalog.DataTable) []string {
	if len(inputs) == 0 {
		return nil
	}
	common := append([]string{}, inputs[0].PKColumns...)
	for _, in := range inputs[1:] {
		common = intersect(common, in.PKColumns)
	}
	for _, out := range outputs {
		common = intersect(common, out.PKColumns)
	}
	return common
}

func intersect(a, b []string) []string {
	bSet := map[string]bool{}
	for _, x := range b {
		bSet[x] = true
	}
	var out []string
	for _, x := range a {
		if bSet[x] {
			out = append(out, x)
		}
	}
	return out
}

// DeriveName computes the stable digest used to name a step's transform
// meta table: a hash of its class, declared name, and the
// names of its inputs and outputs, truncated to 5 hex bytes.
func DeriveName(class, declared string, inputNames, outputNames []string) string {
	s := class + declared
	for _, n := range inputNames {
		s += n
	}
	for _, n := range outputNames {
		s += n
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%s_%x", declared, sum[:5])
}

// Name returns the step's full derived name.
func (s *Step) Name() string {
	inNames := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(s.Outputs))
	for i, out := range s.Outputs {
		outNames[i] = out.Name
	}
	return DeriveName("BatchTransformStep", s.DeclaredName, inNames, outNames)
}

// Validate checks that PK columns shared between inputs and outputs agree
// in type — the source's ComputeStep.validate. Type equality is checked by
// the caller providing matching store.Column.Type values; this function
// only checks structural consistency of the transform-key declaration,
// since frame.Frame itself does not carry column types.
func (s *Step) Validate() error {
	if len(s.TransformKeys) == 0 {
		return &errs.ConstructionError{Msg: "step " + s.DeclaredName + ": transform keys must be non-empty"}
	}
	return nil
}

func (s *Step) now() float64 {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return float64(clock.Now().UnixNano()) / 1e9
}

// projectToPK extracts, from a transform-key batch frame, the PK-column
// values a specific data table needs to key its own reads/writes by.
func projectToPK(batch *frame.Frame, transformKeys []string, pkColumns []string) (*frame.Frame, error) {
	idxByKey := make([]int, len(pkColumns))
	for i, col := range pkColumns {
		j := indexOf(transformKeys, col)
		if j < 0 {
			return nil, fmt.Errorf("step: pk column %q is not among the transform keys", col)
		}
		idxByKey[i] = j
	}
	out := frame.New(pkColumns, len(pkColumns))
	for r := 0; r < batch.Len(); r++ {
		row := make([]any, len(pkColumns))
		for i, j := range idxByKey {
			row[i] = batch.Rows[r][j]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

// ProcessBatch runs the per-batch state machine for one batch of transform
// keys. Per-batch data-level failures (fetch/transform/store) are recorded
// in transform meta and returned as a (possibly empty) Change List with a
// nil error — callers should keep processing the next batch. A non-nil
// error here means something outside the data path went wrong (e.g. the
// transform-meta write itself failed).
func (s *Step) ProcessBatch(ctx context.Context, batch *frame.Frame) (*changelist.ChangeList, error) {
	now := s.now()
	cl := changelist.New()

	inputFrames := make([]*frame.Frame, len(s.Inputs))
	for i, in := range s.Inputs {
		idx, err := projectToPK(batch, s.TransformKeys, in.PKColumns)
		if err != nil {
			return cl, err
		}
		data, err := in.Data.ReadRows(ctx, idx)
		if err != nil {
			ferr := &errs.InputFetchError{Table: in.Name, Err: err}
			if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, ferr.Error()); merr != nil {
				return cl, merr
			}
			return cl, nil
		}
		inputFrames[i] = data
	}

	allEmpty := len(inputFrames) > 0
	for _, f := range inputFrames {
		if f.Len() > 0 {
			allEmpty = false
			break
		}
	}

	if allEmpty {
		for _, out := range s.Outputs {
			idx, err := projectToPK(batch, s.TransformKeys, out.PKColumns)
			if err != nil {
				return cl, err
			}
			existing, err := out.Meta.GetExistingIdx(ctx, idx)
			if err != nil {
				ferr := &errs.OutputWriteError{Table: out.Name, Err: err}
				if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, ferr.Error()); merr != nil {
					return cl, merr
				}
				return cl, nil
			}
			if existing.Len() > 0 {
				if err := out.DeleteByIdx(ctx, existing, now); err != nil {
					ferr := &errs.OutputWriteError{Table: out.Name, Err: err}
					if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, ferr.Error()); merr != nil {
						return cl, merr
					}
					return cl, nil
				}
				for i := 0; i < existing.Len(); i++ {
					cl.Append(out.Name, existing.PKKey(i), existing.Rows[i])
				}
			}
		}
		if err := s.TransformMeta.MarkRowsProcessedSuccess(ctx, batch, now); err != nil {
			return cl, err
		}
		return cl, nil
	}

	outputs, err := s.Transform(ctx, inputFrames, s.Kwargs)
	if err != nil {
		terr := &errs.TransformError{Step: s.Name(), Err: err}
		if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, terr.Error()); merr != nil {
			return cl, merr
		}
		return cl, nil
	}
	if len(outputs) != len(s.Outputs) {
		terr := &errs.TransformError{Step: s.Name(), Err: fmt.Errorf("transform returned %d outputs, want %d", len(outputs), len(s.Outputs))}
		if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, terr.Error()); merr != nil {
			return cl, merr
		}
		return cl, nil
	}

	for i, out := range s.Outputs {
		idx, err := projectToPK(batch, s.TransformKeys, out.PKColumns)
		if err != nil {
			return cl, err
		}
		changed, err := out.StoreChunk(ctx, outputs[i], idx, now)
		if err != nil {
			werr := &errs.OutputWriteError{Table: out.Name, Err: err}
			if merr := s.TransformMeta.MarkRowsProcessedError(ctx, batch, now, werr.Error()); merr != nil {
				return cl, merr
			}
			return cl, nil
		}
		for _, pk := range changed {
			cl.Append(out.Name, frame.KeyString(pk), pk)
		}
	}

	if err := s.TransformMeta.MarkRowsProcessedSuccess(ctx, batch, now); err != nil {
		return cl, err
	}
	return cl, nil
}

// RunFull runs every stale batch the planner finds, via the step's Executor.
func (s *Step) RunFull(ctx context.Context) (*changelist.ChangeList, error) {
	batches, err := s.Planner.GetFullProcessIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.runBatches(ctx, batches)
}

// RunChangeList runs only the batches reachable from the given Change List.
func (s *Step) RunChangeList(ctx context.Context, in *changelist.ChangeList) (*changelist.ChangeList, error) {
	batches := s.Planner.GetChangeListProcessIDs(in)
	return s.runBatches(ctx, batches)
}

func (s *Step) runBatches(ctx context.Context, batches []*frame.Frame) (*changelist.ChangeList, error) {
	ex := s.Executor
	if ex == nil {
		ex = executor.SingleThread{}
	}
	ch := make(chan *frame.Frame, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)
	return ex.RunBatches(ctx, ch, s.ProcessBatch)
}

// FillMetadata pre-populates transform meta as already-successful for every
// currently-stale key, without running the transform — used to bootstrap a
// step over pre-existing data the caller knows is already correct.
func (s *Step) FillMetadata(ctx context.Context) error {
	candidates, err := s.Planner.Candidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	idx := frame.New(s.TransformKeys, len(s.TransformKeys))
	for _, c := range candidates {
		idx.Rows = append(idx.Rows, c.Keys)
	}
	return s.TransformMeta.MarkRowsProcessedSuccess(ctx, idx, s.now())
}

// ResetMetadata clears transform meta, forcing every key to be treated as
// stale on the next run.
func (s *Step) ResetMetadata(ctx context.Context) error {
	return s.TransformMeta.MarkAllRowsUnprocessed(ctx)
}
