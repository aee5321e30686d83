package dataset

import (
	"bufio"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// FromRecords builds a dataset from one or more Arrow records sharing a schema.
func FromRecords(cols Columns, records ...arrow.Record) (*Dataset, error) {
	if len(records) == 0 {
		return nil, lcmerrors.NewDataContractError("dataset.FromRecords", "no records")
	}
	schema := records[0].Schema()

	covariates, err := resolveColumns(schema, cols)
	if err != nil {
		return nil, err
	}

	var (
		rows [][]float64
		t, y []float64
		ids  []core.UnitID
	)
	hasID := cols.ID != "" && len(schema.FieldIndices(cols.ID)) > 0

	for _, rec := range records {
		if !rec.Schema().Equal(schema) {
			return nil, lcmerrors.NewDataContractError("dataset.FromRecords", "records do not share a schema")
		}
		n := int(rec.NumRows())

		tCol, err := column(rec, cols.Treatment)
		if err != nil {
			return nil, err
		}
		yCol, err := column(rec, cols.Outcome)
		if err != nil {
			return nil, err
		}
		covCols := make([][]float64, len(covariates))
		for j, name := range covariates {
			if covCols[j], err = column(rec, name); err != nil {
				return nil, err
			}
		}
		var idCol []float64
		if hasID {
			if idCol, err = column(rec, cols.ID); err != nil {
				return nil, err
			}
		}

		for i := 0; i < n; i++ {
			row := make([]float64, len(covariates))
			for j := range covariates {
				row[j] = covCols[j][i]
			}
			rows = append(rows, row)
			t = append(t, tCol[i])
			y = append(y, yCol[i])
			if hasID {
				ids = append(ids, core.UnitID(idCol[i]))
			}
		}
	}
	return New(covariates, rows, t, y, ids)
}

// ReadCSV loads a delimited text table with a header row. Covariate and
// outcome columns are always read as Float64 so that a whole number in the
// first row does not fix an integer type for the column. The treatment and
// id columns keep their inferred types.
func ReadCSV(r io.Reader, cols Columns) (*Dataset, error) {
	op := "dataset.ReadCSV"
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, lcmerrors.WrapDataContractError(err, op, "failed to read header")
	}
	header, err := stdcsv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, lcmerrors.WrapDataContractError(err, op, "failed to parse header")
	}
	types := make(map[string]arrow.DataType, len(header))
	for _, name := range header {
		if name == cols.Treatment || (cols.ID != "" && name == cols.ID) {
			continue
		}
		types[name] = arrow.PrimitiveTypes.Float64
	}

	reader := csv.NewInferringReader(io.MultiReader(strings.NewReader(line), br),
		csv.WithHeader(true),
		csv.WithColumnTypes(types),
		csv.WithChunk(1<<14),
		csv.WithAllocator(memory.NewGoAllocator()),
	)
	defer reader.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, lcmerrors.WrapDataContractError(err, op, "failed to parse delimited input")
	}
	return FromRecords(cols, records...)
}

// ToRecord exports the dataset as a single Arrow record with the id column
// first, then covariates, treatment and outcome.
func (d *Dataset) ToRecord(mem memory.Allocator, cols Columns) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	idName := cols.ID
	if idName == "" {
		idName = "id"
	}
	fields := []arrow.Field{{Name: idName, Type: arrow.PrimitiveTypes.Int64}}
	for _, c := range d.covariates {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.PrimitiveTypes.Float64})
	}
	fields = append(fields,
		arrow.Field{Name: cols.Treatment, Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: cols.Outcome, Type: arrow.PrimitiveTypes.Float64},
	)
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	p := d.P()
	for i := 0; i < d.Len(); i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(d.ids[i]))
		row := d.Row(i)
		for j := 0; j < p; j++ {
			b.Field(1 + j).(*array.Float64Builder).Append(row[j])
		}
		b.Field(1 + p).(*array.Int64Builder).Append(int64(d.t[i]))
		b.Field(2 + p).(*array.Float64Builder).Append(d.y[i])
	}
	return b.NewRecord()
}

func resolveColumns(schema *arrow.Schema, cols Columns) ([]string, error) {
	required := []string{cols.Treatment, cols.Outcome}
	required = append(required, cols.Covariates...)

	var missing []string
	for _, name := range required {
		if name == "" || len(schema.FieldIndices(name)) == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, lcmerrors.WrapDataContractError(&core.MissingColumnError{Columns: missing},
			"dataset.resolveColumns", "required columns absent")
	}

	if len(cols.Covariates) > 0 {
		return append([]string(nil), cols.Covariates...), nil
	}
	var covariates []string
	for _, f := range schema.Fields() {
		if f.Name == cols.Treatment || f.Name == cols.Outcome || (cols.ID != "" && f.Name == cols.ID) {
			continue
		}
		covariates = append(covariates, f.Name)
	}
	return covariates, nil
}

func column(rec arrow.Record, name string) ([]float64, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, lcmerrors.WrapDataContractError(&core.MissingColumnError{Columns: []string{name}},
			"dataset.column", "column absent")
	}
	return toFloat64(rec.Column(idx[0]), name)
}

func toFloat64(arr arrow.Array, name string) ([]float64, error) {
	n := arr.Len()
	out := make([]float64, n)
	if arr.NullN() > 0 {
		return nil, lcmerrors.NewDataContractError("dataset.toFloat64",
			fmt.Sprintf("column %q has %d null values", name, arr.NullN()))
	}
	switch a := arr.(type) {
	case *array.Float64:
		copy(out, a.Float64Values())
	case *array.Float32:
		for i := 0; i < n; i++ {
			out[i] = float64(a.Value(i))
		}
	case *array.Int64:
		for i := 0; i < n; i++ {
			out[i] = float64(a.Value(i))
		}
	case *array.Int32:
		for i := 0; i < n; i++ {
			out[i] = float64(a.Value(i))
		}
	case *array.Boolean:
		for i := 0; i < n; i++ {
			if a.Value(i) {
				out[i] = 1
			}
		}
	default:
		return nil, lcmerrors.NewDataContractError("dataset.toFloat64",
			fmt.Sprintf("column %q has unsupported type %s", name, arr.DataType()))
	}
	for i, v := range out {
		if math.IsNaN(v) {
			return nil, lcmerrors.NewDataContractError("dataset.toFloat64",
				fmt.Sprintf("column %q has NaN at row %d", name, i))
		}
	}
	return out, nil
}
