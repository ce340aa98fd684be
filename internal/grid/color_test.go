package grid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHSLFormat(t *testing.T) {
	assert.Equal(t, "hsl(120, 70%, 50%)", HSL(120))
}

func TestHueDiffWrapsAround(t *testing.T) {
	assert.Equal(t, 0.0, HueDiff(10, 10))
	assert.Equal(t, 20.0, HueDiff(10, 30))
	assert.Equal(t, 20.0, HueDiff(350, 10))
	assert.Equal(t, 180.0, HueDiff(0, 180))
}

func TestNonCollidingHueRespectsThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	taken := []int{0, 90, 180, 270}
	hue := NonCollidingHue(taken, rng)
	for _, t2 := range taken {
		assert.GreaterOrEqual(t, HueDiff(hue, t2), HueSimilarityThreshold)
	}
}
