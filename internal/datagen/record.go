package datagen

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TruthRecord exports the unobserved quantities of the sample keyed by unit
// id. The caller must Release it.
func (s *Sample) TruthRecord(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "mu0", Type: arrow.PrimitiveTypes.Float64},
		{Name: "mu1", Type: arrow.PrimitiveTypes.Float64},
		{Name: "y0", Type: arrow.PrimitiveTypes.Float64},
		{Name: "y1", Type: arrow.PrimitiveTypes.Float64},
		{Name: "effect", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	for _, id := range s.Data.IDs() {
		ids.Append(int64(id))
	}
	for j, col := range [][]float64{s.Mu0, s.Mu1, s.Y0, s.Y1, s.Effect} {
		b.Field(1 + j).(*array.Float64Builder).AppendValues(col, nil)
	}
	return b.NewRecord()
}
