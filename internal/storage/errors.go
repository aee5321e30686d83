package storage

import (
	"fmt"
	"time"
)

// ArtifactError provides context for a failed artifact read or write.
type ArtifactError struct {
	Op        string    // Operation: "create", "write", "read", "close"
	Path      string    // Artifact path
	Cause     error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ArtifactError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("artifact %s failed for %s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("artifact %s failed for %s", e.Op, e.Path)
}

func (e *ArtifactError) Unwrap() error {
	return e.Cause
}

// NewArtifactError creates an artifact error with timestamp.
func NewArtifactError(op, path string, cause error) error {
	return &ArtifactError{
		Op:        op,
		Path:      path,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
