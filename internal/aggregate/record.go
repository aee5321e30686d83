package aggregate

import (
	"github.com/23skdu/lcm/internal/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column name prefixes of the exported table.
const (
	MeanPrefix  = "avg.CATE"
	StdPrefix   = "std.CATE"
	CountPrefix = "n"
)

// Schema returns the export schema: id, then mean, std and count per label,
// then the combined mean and std when present, then Y and T.
func (r *Result) Schema() *arrow.Schema {
	fields := []arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}
	for _, l := range r.Labels {
		fields = append(fields,
			arrow.Field{Name: MeanPrefix + "_" + l, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			arrow.Field{Name: StdPrefix + "_" + l, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			arrow.Field{Name: CountPrefix + "_" + l, Type: arrow.PrimitiveTypes.Int64},
		)
	}
	if r.Combined != nil {
		fields = append(fields,
			arrow.Field{Name: MeanPrefix, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			arrow.Field{Name: StdPrefix, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		)
	}
	fields = append(fields,
		arrow.Field{Name: "Y", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "T", Type: arrow.PrimitiveTypes.Int64},
	)
	return arrow.NewSchema(fields, nil)
}

// Record exports the result as one Arrow record. Missing values are nulls.
// The caller must Release it.
func (r *Result) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, r.Schema())
	defer b.Release()

	col := 0
	next := func() array.Builder {
		fb := b.Field(col)
		col++
		return fb
	}

	ids := next().(*array.Int64Builder)
	for _, id := range r.Units {
		ids.Append(int64(id))
	}
	appendStats := func(s *Stats, withCount bool) {
		appendNullable(next().(*array.Float64Builder), s.Mean)
		appendNullable(next().(*array.Float64Builder), s.Std)
		if withCount {
			cb := next().(*array.Int64Builder)
			for _, c := range s.Count {
				cb.Append(int64(c))
			}
		}
	}
	for _, l := range r.Labels {
		appendStats(r.ByLabel[l], true)
	}
	if r.Combined != nil {
		appendStats(r.Combined, false)
	}
	next().(*array.Float64Builder).AppendValues(r.Outcome, nil)
	tb := next().(*array.Int64Builder)
	for _, a := range r.Treatment {
		tb.Append(int64(a))
	}
	return b.NewRecord()
}

func appendNullable(b *array.Float64Builder, values []float64) {
	for _, v := range values {
		if core.IsMissing(v) {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
}
