package storage

import (
	"io"
	"os"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/pipeline"
	"github.com/parquet-go/parquet-go"
)

// FoldEstimateRecord is one unit's estimate under one method in one fold.
// CATE is nil when the estimate is missing.
type FoldEstimateRecord struct {
	ID     int64    `parquet:"id"`
	Repeat int32    `parquet:"repeat"`
	Fold   int32    `parquet:"fold"`
	Method string   `parquet:"method"`
	CATE   *float64 `parquet:"cate,optional"`
}

// FoldEstimateRows flattens fold results into long format, ordered by fold,
// then method, then unit.
func FoldEstimateRows(results []*pipeline.Result) []FoldEstimateRecord {
	n := 0
	for _, r := range results {
		n += len(r.Units) * len(r.Labels)
	}
	rows := make([]FoldEstimateRecord, 0, n)
	for _, r := range results {
		for _, label := range r.Labels {
			series := r.Series[label]
			for i, id := range r.Units {
				row := FoldEstimateRecord{
					ID:     int64(id),
					Repeat: int32(r.Repeat),
					Fold:   int32(r.Index),
					Method: label,
				}
				if v := series[i]; !core.IsMissing(v) {
					row.CATE = &v
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}

// writeFoldEstimatesParquet writes rows as a single zstd-compressed file.
func writeFoldEstimatesParquet(w io.Writer, rows []FoldEstimateRecord) error {
	pw := parquet.NewGenericWriter[FoldEstimateRecord](w, parquet.Compression(&parquet.Zstd))
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			_ = pw.Close()
			return err
		}
	}
	return pw.Close()
}

// ReadFoldEstimates loads a fold_estimates.parquet artifact.
func ReadFoldEstimates(path string) ([]FoldEstimateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewArtifactError("read", path, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, NewArtifactError("read", path, err)
	}
	return readFoldEstimates(f, fi.Size())
}

func readFoldEstimates(r io.ReaderAt, size int64) ([]FoldEstimateRecord, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, err
	}

	pr := parquet.NewGenericReader[FoldEstimateRecord](pf)
	defer func() { _ = pr.Close() }()

	rows := make([]FoldEstimateRecord, pr.NumRows())
	read := 0
	for read < len(rows) {
		n, err := pr.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return rows[:read], nil
}
