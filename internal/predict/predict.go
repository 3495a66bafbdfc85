// Package predict is the boundary to the image classification
// collaborator. The classifier returns a label-to-probability mapping;
// the rest of the system only ever consumes the derived (label,
// confidence) pair.
package predict

import "strings"

type Guess struct {
	Label      string
	Confidence float64
}

// Top reduces a classifier response to the best guess. Probabilities
// are clamped to [0, 1]; an empty response yields a zero Guess.
func Top(probs map[string]float64) Guess {
	var g Guess
	for label, p := range probs {
		p = clamp(p)
		if p > g.Confidence || g.Label == "" {
			g = Guess{Label: label, Confidence: p}
		}
	}

	return g
}

// Matches reports whether the guess names the target word.
func (g Guess) Matches(word string) bool {
	return strings.EqualFold(strings.TrimSpace(g.Label), strings.TrimSpace(word))
}

// Confident reports whether the guess clears the AI win threshold.
func (g Guess) Confident(threshold float64) bool {
	return g.Confidence >= threshold
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}

	return p
}
