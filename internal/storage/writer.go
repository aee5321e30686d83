// Package storage persists the artifacts of a run: the aggregated result,
// per-fold estimates, match groups and a manifest.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/engine"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
)

// Artifact file names.
const (
	CATEFile                 = "cate.csv"
	FoldEstimatesCSVFile     = "fold_estimates.csv"
	FoldEstimatesParquetFile = "fold_estimates.parquet"
	ManifestFile             = "manifest.json"
)

// Format selects the encoding of the per-fold estimates.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatBoth    Format = "both"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet, FormatBoth:
		return f, nil
	}
	return "", fmt.Errorf("%w: output format %q (want csv, parquet or both)", core.ErrInvalidArgument, s)
}

// MatchGroupFile names the match-group artifact of one arm.
func MatchGroupFile(arm core.Arm, distances bool) string {
	if distances {
		return fmt.Sprintf("match_groups_%s_distance.csv", arm)
	}
	return fmt.Sprintf("match_groups_%s.csv", arm)
}

// Writer persists run reports under Dir.
type Writer struct {
	Dir            string
	Format         Format
	ReturnDistance bool
	Mem            memory.Allocator
	Logger         zerolog.Logger
}

// Write persists rep and a manifest built from m, returning the artifact
// paths in write order with the manifest last.
func (w *Writer) Write(rep *engine.Report, m Manifest) ([]string, error) {
	if rep == nil || rep.Result == nil {
		return nil, lcmerrors.NewValidationError("storage.Write", "report has no result")
	}
	format := w.Format
	if format == "" {
		format = FormatCSV
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, lcmerrors.WrapConfigurationError(err, "storage.Write", "bad output format")
	}
	mem := w.Mem
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, lcmerrors.WrapStorageError(NewArtifactError("create", w.Dir, err), "storage.Write", "cannot create output directory")
	}

	var paths []string
	write := func(name string, fn func(io.Writer) error) error {
		p, err := w.writeFile(name, fn)
		if err != nil {
			return lcmerrors.WrapStorageError(err, "storage.Write", "failed to write "+name)
		}
		paths = append(paths, p)
		return nil
	}

	if err := write(CATEFile, func(out io.Writer) error {
		rec := rep.Result.Record(mem)
		defer rec.Release()
		return WriteRecordCSV(out, rec)
	}); err != nil {
		return nil, err
	}

	rows := FoldEstimateRows(rep.Result.Folds)
	if format == FormatCSV || format == FormatBoth {
		if err := write(FoldEstimatesCSVFile, func(out io.Writer) error {
			rec := foldEstimatesRecord(mem, rows)
			defer rec.Release()
			return WriteRecordCSV(out, rec)
		}); err != nil {
			return nil, err
		}
	}
	if format == FormatParquet || format == FormatBoth {
		if err := write(FoldEstimatesParquetFile, func(out io.Writer) error {
			return writeFoldEstimatesParquet(out, rows)
		}); err != nil {
			return nil, err
		}
	}

	for _, arm := range []core.Arm{core.Control, core.Treated} {
		variants := []bool{false}
		if w.ReturnDistance {
			variants = append(variants, true)
		}
		for _, distances := range variants {
			if err := write(MatchGroupFile(arm, distances), func(out io.Writer) error {
				rec := matchGroupRecord(mem, rep.Result.Folds, arm, distances)
				defer rec.Release()
				return WriteRecordCSV(out, rec)
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range paths {
		m.Artifacts = append(m.Artifacts, filepath.Base(p))
	}
	m.Artifacts = append(m.Artifacts, ManifestFile)
	if err := write(ManifestFile, func(out io.Writer) error {
		return writeManifest(out, m)
	}); err != nil {
		return nil, err
	}

	w.Logger.Info().
		Str("dir", w.Dir).
		Str("format", string(format)).
		Int("artifacts", len(paths)).
		Msg("Run artifacts written")
	return paths, nil
}

func (w *Writer) writeFile(name string, fn func(io.Writer) error) (string, error) {
	path := filepath.Join(w.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", NewArtifactError("create", path, err)
	}

	start := time.Now()
	if err := fn(f); err != nil {
		_ = f.Close()
		return "", NewArtifactError("write", path, err)
	}
	metrics.ArtifactWriteDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if stat, err := f.Stat(); err == nil {
		metrics.ArtifactSizeBytes.WithLabelValues(name).Observe(float64(stat.Size()))
	}
	if err := f.Close(); err != nil {
		return "", NewArtifactError("close", path, err)
	}
	w.Logger.Debug().Str("path", path).Msg("Artifact written")
	return path, nil
}
