// Package outcome holds the global outcome models fitted on a training
// split, the weight vectors extracted from them and the external prediction
// sources used by augmented estimation.
package outcome

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/space"
)

// Model predicts an outcome from a full covariate row.
type Model interface {
	Predict(x []float64) float64
}

// Linear is a model exposing per-covariate coefficients.
type Linear interface {
	Coefficients() []float64
}

// Ensemble is a model exposing per-covariate importances.
type Ensemble interface {
	FeatureImportances() []float64
}

// RidgeModel is a ridge regression over every covariate.
type RidgeModel struct {
	fit *estimate.Ridge
}

// FitRidgeModel fits a ridge regression of y on x.
func FitRidgeModel(x [][]float64, y []float64, alphas []float64) (*RidgeModel, error) {
	r, err := estimate.FitRidge(x, y, alphas)
	if err != nil {
		return nil, err
	}
	return &RidgeModel{fit: r}, nil
}

func (m *RidgeModel) Predict(x []float64) float64 { return m.fit.Predict(x) }

// Coefficients returns a copy of the slope vector.
func (m *RidgeModel) Coefficients() []float64 { return append([]float64(nil), m.fit.Coef...) }

// Alpha returns the selected penalty.
func (m *RidgeModel) Alpha() float64 { return m.fit.Alpha }

// ConstantModel predicts the same value everywhere.
type ConstantModel struct {
	Value float64
}

func (m ConstantModel) Predict([]float64) float64 { return m.Value }

// ExtractWeights reads a weight vector from a fitted model, preferring
// coefficients over feature importances, and returns absolute values.
func ExtractWeights(m any, p int) (space.Weights, error) {
	var raw []float64
	switch v := m.(type) {
	case Linear:
		raw = v.Coefficients()
	case Ensemble:
		raw = v.FeatureImportances()
	default:
		return nil, lcmerrors.WrapConfigurationError(
			&core.WeightVectorError{Want: p, Reason: fmt.Sprintf("%T exposes neither coefficients nor feature importances", m)},
			"outcome.ExtractWeights", "model has no weights")
	}
	if len(raw) != p {
		return nil, lcmerrors.WrapConfigurationError(&core.WeightVectorError{Want: p, Got: len(raw)},
			"outcome.ExtractWeights", "weight vector length does not match covariate count")
	}
	w := make(space.Weights, p)
	for i, v := range raw {
		w[i] = math.Abs(v)
	}
	return w, nil
}
