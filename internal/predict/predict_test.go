package predict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minhtp/drawdash/internal/predict"
)

func TestTop(t *testing.T) {
	g := predict.Top(map[string]float64{
		"cat":   0.1,
		"house": 0.7,
		"tree":  0.2,
	})

	assert.Equal(t, "house", g.Label)
	assert.InDelta(t, 0.7, g.Confidence, 1e-9)
}

func TestTop_ClampsProbabilities(t *testing.T) {
	g := predict.Top(map[string]float64{"cat": 1.4})

	assert.Equal(t, "cat", g.Label)
	assert.Equal(t, 1.0, g.Confidence)
}

func TestTop_Empty(t *testing.T) {
	assert.Zero(t, predict.Top(nil))
}

func TestGuess_Matches(t *testing.T) {
	g := predict.Guess{Label: " House "}

	assert.True(t, g.Matches("house"))
	assert.False(t, g.Matches("tree"))
}

func TestGuess_Confident(t *testing.T) {
	assert.True(t, predict.Guess{Confidence: 0.86}.Confident(0.85))
	assert.False(t, predict.Guess{Confidence: 0.84}.Confident(0.85))
}
