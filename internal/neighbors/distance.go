package neighbors

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"gonum.org/v1/gonum/floats"
)

// DistanceFunc measures the distance between two points of equal length.
type DistanceFunc func(a, b []float64) float64

func distanceFunc(metric core.DistanceMetric) (DistanceFunc, error) {
	switch metric {
	case core.MetricEuclidean, "":
		return Euclidean, nil
	case core.MetricManhattan:
		return func(a, b []float64) float64 { return floats.Distance(a, b, 1) }, nil
	case core.MetricChebyshev:
		return func(a, b []float64) float64 { return floats.Distance(a, b, math.Inf(1)) }, nil
	case core.MetricCosine:
		return Cosine, nil
	}
	return nil, lcmerrors.NewConfigurationError("neighbors.distanceFunc", fmt.Sprintf("unknown metric %q", metric))
}

// Euclidean is the L2 distance.
func Euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Cosine is 1 - cosine similarity; zero vectors are at distance 1.
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}
