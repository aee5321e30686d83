package outcome

import (
	"context"
	"time"

	"github.com/23skdu/lcm/internal/breaker"
	"github.com/23skdu/lcm/internal/dataset"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/metrics"
)

// GuardedSource stops calling a prediction source after Threshold
// consecutive failures. While open, folds fail immediately with
// breaker.ErrOpen, which Collect reports as a collaborator failure.
type GuardedSource struct {
	src PredictionSource
	b   *breaker.Breaker
}

// Guard wraps src. name labels the breaker state gauge.
func Guard(src PredictionSource, name string, threshold int, cooldown time.Duration) *GuardedSource {
	metrics.SourceBreakerState.WithLabelValues(name).Set(float64(breaker.StateClosed))
	return &GuardedSource{
		src: src,
		b: breaker.New(breaker.Settings{
			Name:      name,
			Threshold: threshold,
			Cooldown:  cooldown,
			OnStateChange: func(name string, _, to breaker.State) {
				metrics.SourceBreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

// State reports the breaker state.
func (g *GuardedSource) State() breaker.State { return g.b.State() }

// Predict implements PredictionSource.
func (g *GuardedSource) Predict(ctx context.Context, fold folds.Fold, est *dataset.Dataset) (*estimate.Predictions, error) {
	var p *estimate.Predictions
	err := g.b.Do(func() error {
		var err error
		p, err = g.src.Predict(ctx, fold, est)
		return err
	})
	return p, err
}
