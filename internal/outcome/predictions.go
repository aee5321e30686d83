package outcome

import (
	"fmt"
	"io"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Columns of a predictions file. y0 and y1 are the predicted control and
// treated outcomes of unit id when it is estimated in the given fold.
const (
	PredRepeatColumn  = "repeat"
	PredFoldColumn    = "fold"
	PredIDColumn      = "id"
	PredControlColumn = "y0"
	PredTreatedColumn = "y1"
)

var predictionTypes = map[string]arrow.DataType{
	PredRepeatColumn:  arrow.PrimitiveTypes.Int64,
	PredFoldColumn:    arrow.PrimitiveTypes.Int64,
	PredIDColumn:      arrow.PrimitiveTypes.Int64,
	PredControlColumn: arrow.PrimitiveTypes.Float64,
	PredTreatedColumn: arrow.PrimitiveTypes.Float64,
}

// PredictionTable holds externally produced outcome predictions per fold and unit.
type PredictionTable map[FoldKey]map[core.UnitID][2]float64

// ReadPredictionsCSV loads a predictions file with a header row naming the
// repeat, fold, id, y0 and y1 columns in any order. Extra columns are ignored.
func ReadPredictionsCSV(r io.Reader) (PredictionTable, error) {
	op := "outcome.ReadPredictionsCSV"
	reader := csv.NewInferringReader(r,
		csv.WithHeader(true),
		csv.WithColumnTypes(predictionTypes),
		csv.WithChunk(1<<14),
		csv.WithAllocator(memory.NewGoAllocator()),
	)
	defer reader.Release()

	table := PredictionTable{}
	for reader.Next() {
		if err := table.add(reader.Record()); err != nil {
			return nil, err
		}
	}
	if err := reader.Err(); err != nil {
		return nil, lcmerrors.WrapDataContractError(err, op, "failed to parse predictions")
	}
	if len(table) == 0 {
		return nil, lcmerrors.NewDataContractError(op, "predictions file has no rows")
	}
	return table, nil
}

func (t PredictionTable) add(rec arrow.Record) error {
	op := "outcome.ReadPredictionsCSV"
	schema := rec.Schema()
	var missing []string
	col := func(name string) arrow.Array {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			missing = append(missing, name)
			return nil
		}
		return rec.Column(idx[0])
	}
	repeat, fold, id := col(PredRepeatColumn), col(PredFoldColumn), col(PredIDColumn)
	y0, y1 := col(PredControlColumn), col(PredTreatedColumn)
	if len(missing) > 0 {
		return lcmerrors.WrapDataContractError(&core.MissingColumnError{Columns: missing}, op,
			"predictions file lacks required columns")
	}
	for _, a := range []arrow.Array{repeat, fold, id, y0, y1} {
		if a.NullN() > 0 {
			return lcmerrors.NewDataContractError(op, "predictions file has empty or unparsable values")
		}
	}

	rs, fs, ids := repeat.(*array.Int64), fold.(*array.Int64), id.(*array.Int64)
	c, tr := y0.(*array.Float64), y1.(*array.Float64)
	for i := 0; i < int(rec.NumRows()); i++ {
		key := FoldKey{Repeat: int(rs.Value(i)), Index: int(fs.Value(i))}
		unit := core.UnitID(ids.Value(i))
		v := [2]float64{c.Value(i), tr.Value(i)}
		if math.IsNaN(v[0]) || math.IsNaN(v[1]) {
			return lcmerrors.NewDataContractError(op, fmt.Sprintf("NaN prediction for unit %d in repeat %d fold %d",
				unit, key.Repeat, key.Index))
		}
		units := t[key]
		if units == nil {
			units = map[core.UnitID][2]float64{}
			t[key] = units
		}
		if _, dup := units[unit]; dup {
			return lcmerrors.NewDataContractError(op, fmt.Sprintf("unit %d listed twice for repeat %d fold %d",
				unit, key.Repeat, key.Index))
		}
		units[unit] = v
	}
	return nil
}

// Align orders the predictions of every fold by its estimation units. A
// fold absent from the table is left out, so predicting it fails at run
// time as a collaborator failure. A fold that is present must cover every
// estimation unit.
func (t PredictionTable) Align(fs []folds.Fold) (StaticPredictions, error) {
	out := StaticPredictions{}
	for _, f := range fs {
		key := FoldKey{Repeat: f.Repeat, Index: f.Index}
		units, ok := t[key]
		if !ok {
			continue
		}
		p := &estimate.Predictions{
			Control: make([]float64, len(f.Estimation)),
			Treated: make([]float64, len(f.Estimation)),
		}
		for i, id := range f.Estimation {
			v, ok := units[id]
			if !ok {
				return nil, lcmerrors.NewDataContractError("outcome.Align",
					fmt.Sprintf("no prediction for unit %d in %s", id, f))
			}
			p.Control[i], p.Treated[i] = v[core.Control], v[core.Treated]
		}
		out[key] = p
	}
	return out, nil
}
