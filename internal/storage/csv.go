package storage

import (
	"fmt"
	"io"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/pipeline"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WriteRecordCSV writes rec with a header row. Nulls are written as empty
// fields.
func WriteRecordCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(),
		csv.WithHeader(true),
		csv.WithNullWriter(""),
	)
	if err := cw.Write(rec); err != nil {
		return err
	}
	return cw.Flush()
}

// foldEstimatesRecord is the delimited-text rendition of FoldEstimateRows.
func foldEstimatesRecord(mem memory.Allocator, rows []FoldEstimateRecord) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "repeat", Type: arrow.PrimitiveTypes.Int32},
		{Name: "fold", Type: arrow.PrimitiveTypes.Int32},
		{Name: "method", Type: arrow.BinaryTypes.String},
		{Name: "cate", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	repeats := b.Field(1).(*array.Int32Builder)
	foldsB := b.Field(2).(*array.Int32Builder)
	methods := b.Field(3).(*array.StringBuilder)
	cates := b.Field(4).(*array.Float64Builder)
	for _, r := range rows {
		ids.Append(r.ID)
		repeats.Append(r.Repeat)
		foldsB.Append(r.Fold)
		methods.Append(r.Method)
		if r.CATE == nil {
			cates.AppendNull()
		} else {
			cates.Append(*r.CATE)
		}
	}
	return b.NewRecord()
}

// matchGroupRecord lays out one arm's match groups over every fold: repeat,
// fold, id, pruned, then one column per neighbour rank. With distances set
// the rank columns hold distances instead of identifiers.
func matchGroupRecord(mem memory.Allocator, results []*pipeline.Result, arm core.Arm, distances bool) arrow.Record {
	k := 0
	for _, r := range results {
		if r.Groups != nil {
			k = r.Groups.K
			break
		}
	}

	fields := []arrow.Field{
		{Name: "repeat", Type: arrow.PrimitiveTypes.Int32},
		{Name: "fold", Type: arrow.PrimitiveTypes.Int32},
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "pruned", Type: arrow.FixedWidthTypes.Boolean},
	}
	prefix, rankType := "nn", arrow.DataType(arrow.PrimitiveTypes.Int64)
	if distances {
		prefix, rankType = "dist", arrow.PrimitiveTypes.Float64
	}
	for j := 1; j <= k; j++ {
		fields = append(fields, arrow.Field{Name: fmt.Sprintf("%s_%d", prefix, j), Type: rankType})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, r := range results {
		if r.Groups == nil {
			continue
		}
		ids := r.Groups.IDTable(arm)
		dist := r.Groups.DistanceTable(arm)
		for i, id := range ids.Units {
			b.Field(0).(*array.Int32Builder).Append(int32(r.Repeat))
			b.Field(1).(*array.Int32Builder).Append(int32(r.Index))
			b.Field(2).(*array.Int64Builder).Append(int64(id))
			b.Field(3).(*array.BooleanBuilder).Append(r.Mask != nil && r.Mask.ArmPruned(arm, i))
			for j := 0; j < k; j++ {
				if distances {
					b.Field(4 + j).(*array.Float64Builder).Append(dist.Rows[i][j])
				} else {
					b.Field(4 + j).(*array.Int64Builder).Append(int64(ids.Rows[i][j]))
				}
			}
		}
	}
	return b.NewRecord()
}
