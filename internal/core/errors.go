package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every stage of the engine. Stages wrap them in
// richer errors; callers match with errors.Is.
var (
	// ErrInvalidWeightVector: wrong length, non-finite entry, or no positive weight.
	ErrInvalidWeightVector = errors.New("invalid weight vector")
	// ErrInsufficientArmSize: k exceeds the number of units in an arm.
	ErrInsufficientArmSize = errors.New("insufficient arm size")
	// ErrMissingColumn: a required dataset column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrDegenerateMatchGroup: a local sub-block has fewer than two members.
	ErrDegenerateMatchGroup = errors.New("degenerate match group")
	// ErrSingularFit: a local model produced non-finite coefficients.
	ErrSingularFit = errors.New("singular local fit")
	// ErrMatchGroupMismatch: match-group rows do not line up with the estimation set.
	ErrMatchGroupMismatch = errors.New("match group mismatch")
	// ErrCollaboratorFailure: an external prediction source failed.
	ErrCollaboratorFailure = errors.New("collaborator failure")
	// ErrInvalidArgument indicates invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// MissingColumnError lists every required column absent from a dataset.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("dataset missing necessary column(s) [%s]", strings.Join(e.Columns, ", "))
}

func (e *MissingColumnError) Unwrap() error {
	return ErrMissingColumn
}

// ArmSizeError reports which arm is too small for the requested k.
type ArmSizeError struct {
	Arm  Arm
	Size int
	K    int
}

func (e *ArmSizeError) Error() string {
	return fmt.Sprintf("k=%d exceeds %s arm size %d", e.K, e.Arm, e.Size)
}

func (e *ArmSizeError) Unwrap() error {
	return ErrInsufficientArmSize
}

// WeightVectorError describes why a weight vector was rejected.
type WeightVectorError struct {
	Want   int
	Got    int
	Reason string
}

func (e *WeightVectorError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("weight vector: %s", e.Reason)
	}
	return fmt.Sprintf("weight vector has %d entries, want %d", e.Got, e.Want)
}

func (e *WeightVectorError) Unwrap() error {
	return ErrInvalidWeightVector
}
