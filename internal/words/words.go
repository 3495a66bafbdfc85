// Package words picks the target word for a round.
package words

import (
	"crypto/rand"
	"math/big"
)

// Pick draws a word uniformly at random from categories. Whenever the
// list holds more than one distinct word, the draw is guaranteed to
// differ from previous so the same word never comes up twice in a row.
func Pick(categories []string, previous string) string {
	if len(categories) == 0 {
		return ""
	}

	if !hasAlternative(categories, previous) {
		return categories[0]
	}

	for {
		w := categories[randIndex(len(categories))]
		if w != previous {
			return w
		}
	}
}

func hasAlternative(categories []string, previous string) bool {
	for _, c := range categories {
		if c != previous {
			return true
		}
	}

	return false
}

func randIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(err)
	}

	return int(i.Int64())
}
