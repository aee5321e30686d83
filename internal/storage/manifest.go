package storage

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/23skdu/lcm/internal/engine"
)

// ManifestFoldError is a fold that did not complete.
type ManifestFoldError struct {
	Repeat int    `json:"repeat"`
	Fold   int    `json:"fold"`
	Error  string `json:"error"`
}

// Manifest describes one run and the artifacts it produced.
type Manifest struct {
	RunID           string              `json:"run_id"`
	TraceID         string              `json:"trace_id,omitempty"`
	Started         time.Time           `json:"started"`
	DurationSeconds float64             `json:"duration_seconds"`
	Seed            uint64              `json:"seed"`
	Folds           int                 `json:"folds"`
	Completed       int                 `json:"completed"`
	Units           int                 `json:"units"`
	Labels          []string            `json:"labels"`
	Config          any                 `json:"config,omitempty"`
	FoldErrors      []ManifestFoldError `json:"fold_errors"`
	Artifacts       []string            `json:"artifacts"`
}

// NewManifest summarizes rep. cfg is recorded as given.
func NewManifest(rep *engine.Report, seed uint64, cfg any) Manifest {
	m := Manifest{
		RunID:           rep.RunID,
		TraceID:         rep.TraceID,
		Started:         rep.Started.UTC(),
		DurationSeconds: rep.Duration.Seconds(),
		Seed:            seed,
		Folds:           len(rep.Folds),
		Completed:       rep.Completed(),
		Config:          cfg,
		FoldErrors:      []ManifestFoldError{},
		Artifacts:       []string{},
	}
	if rep.Result != nil {
		m.Units = len(rep.Result.Units)
		m.Labels = append([]string(nil), rep.Result.Labels...)
	}
	for _, fe := range rep.FoldErrors {
		m.FoldErrors = append(m.FoldErrors, ManifestFoldError{Repeat: fe.Repeat, Fold: fe.Index, Error: fe.Err.Error()})
	}
	return m
}

func writeManifest(w io.Writer, m Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// ReadManifest loads a manifest.json artifact. Config decodes as a generic map.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, NewArtifactError("read", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, NewArtifactError("read", path, err)
	}
	return m, nil
}
