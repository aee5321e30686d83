package estimate

import (
	"testing"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in    string
		want  Strategy
		label string
	}{
		{"mean", Strategy{Method: Mean}, "mean"},
		{"linear", Strategy{Method: Linear}, "linear"},
		{" Linear_Pruned ", Strategy{Method: LinearPruned}, "linear_pruned"},
		{"linear_pruned_augmented", Strategy{Method: LinearPruned, Augmented: true}, "linear_pruned_augmented"},
		{"mean_augmented", Strategy{Method: Mean, Augmented: true}, "mean_augmented"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.label, got.Label())
		})
	}

	_, err := ParseStrategy("quadratic")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestParseStrategies(t *testing.T) {
	got, err := ParseStrategies("mean, linear", true)
	require.NoError(t, err)
	labels := make([]string, len(got))
	for i, s := range got {
		labels[i] = s.Label()
	}
	assert.Equal(t, []string{"mean", "mean_augmented", "linear", "linear_augmented"}, labels)
	assert.True(t, AnyAugmented(got))

	got, err = ParseStrategies("linear", false)
	require.NoError(t, err)
	assert.False(t, AnyAugmented(got))

	_, err = ParseStrategies("mean,quadratic", false)
	require.Error(t, err)
	assert.True(t, lcmerrors.IsFatal(err))

	_, err = ParseStrategies(" , ", false)
	assert.Error(t, err)
}

func TestParseStrategiesSkipsRepeatedLabels(t *testing.T) {
	labelsOf := func(list string, augment bool) []string {
		got, err := ParseStrategies(list, augment)
		require.NoError(t, err)
		labels := make([]string, len(got))
		for i, s := range got {
			labels[i] = s.Label()
		}
		return labels
	}

	assert.Equal(t, []string{"linear", "linear_augmented"}, labelsOf("linear,linear_augmented", true))
	assert.Equal(t, []string{"linear_augmented", "linear"}, labelsOf("linear_augmented,linear", true))
	assert.Equal(t, []string{"mean"}, labelsOf("mean, MEAN", false))
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "linear_pruned", LinearPruned.String())
	assert.Equal(t, "Method(9)", Method(9).String())
}
