package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWeights(t *testing.T) {
	t.Run("accepts all known dimensions in range", func(t *testing.T) {
		err := validateWeights(map[string]int{
			"analog_passions":         10,
			"digital_delights":        0,
			"collaboration_interests": 5,
			"favorite_food":           3,
			"favorite_music":          1,
			"location":                7,
		})
		assert.NoError(t, err)
	})

	t.Run("rejects unknown dimensions", func(t *testing.T) {
		err := validateWeights(map[string]int{"astrology": 5})
		require.Error(t, err)
		appErr, ok := err.(*AppError)
		require.True(t, ok)
		assert.Equal(t, CodeInvalid, appErr.Code)
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		for _, w := range []int{-1, 11} {
			err := validateWeights(map[string]int{"location": w})
			require.Error(t, err, "weight %d", w)
			appErr, ok := err.(*AppError)
			require.True(t, ok)
			assert.Equal(t, CodeInvalid, appErr.Code)
		}
	})

	t.Run("empty map is fine", func(t *testing.T) {
		assert.NoError(t, validateWeights(nil))
	})
}

func TestResolveWeights(t *testing.T) {
	t.Run("missing dimensions count as zero", func(t *testing.T) {
		w := resolveWeights(map[string]int{"analog_passions": 8, "location": 7})
		assert.Len(t, w, len(scoringDimensions))
		assert.Equal(t, 8, w["analog_passions"])
		assert.Equal(t, 7, w["location"])
		assert.Equal(t, 0, w["collaboration_interests"])
		assert.Equal(t, 0, w["favorite_music"])
	})

	t.Run("nil map resolves to all zeroes", func(t *testing.T) {
		w := resolveWeights(nil)
		assert.Equal(t, 0, w.Sum())
	})

	t.Run("unknown keys are dropped", func(t *testing.T) {
		w := resolveWeights(map[string]int{"astrology": 9})
		_, present := w["astrology"]
		assert.False(t, present)
		assert.Equal(t, 0, w.Sum())
	})
}

func TestWeightsSum(t *testing.T) {
	w := resolveWeights(map[string]int{
		"analog_passions":  8,
		"digital_delights": 6,
		"favorite_food":    4,
		"location":         7,
	})
	assert.Equal(t, 25, w.Sum())
}
