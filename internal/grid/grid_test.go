package grid

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCell(t *testing.T, key string) (int, int) {
	t.Helper()
	parts := strings.SplitN(key, ",", 2)
	require.Len(t, parts, 2)
	x, err := strconv.Atoi(parts[0])
	require.NoError(t, err)
	y, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return x, y
}

func TestObstaclesRespectMargin(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	obstacles := Obstacles(40, rng)
	require.NotEmpty(t, obstacles)

	for key := range obstacles {
		x, y := parseCell(t, key)
		assert.GreaterOrEqual(t, x, Margin)
		assert.Less(t, x, 40-Margin)
		assert.GreaterOrEqual(t, y, Margin)
		assert.Less(t, y, 40-Margin)
	}
}

func TestObstaclesRespectMinSpacing(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	obstacles := Obstacles(40, rng)

	var points [][2]int
	for key := range obstacles {
		x, y := parseCell(t, key)
		points = append(points, [2]int{x, y})
	}

	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			d := euclidean(points[i][0], points[i][1], points[j][0], points[j][1])
			assert.GreaterOrEqual(t, d, MinObstacleSpacing)
		}
	}
}

func TestManhattan(t *testing.T) {
	assert.Equal(t, 0, Manhattan(5, 5, 5, 5))
	assert.Equal(t, 7, Manhattan(0, 0, 3, 4))
	assert.Equal(t, 7, Manhattan(3, 4, 0, 0))
}

func TestSafeSpawnAvoidsOccupied(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	occupied := make(Occupancy)
	occupied["10,10"] = struct{}{}

	x, _, dir := SafeSpawn(40, occupied, rng)
	assert.GreaterOrEqual(t, x, Margin)
	assert.Less(t, x, 40-Margin)
	assert.Contains(t, []string{"up", "down", "left", "right"}, dir)
}

func TestSafeSpawnFallsBackWhenFullyOccupied(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	occupied := make(Occupancy)
	for x := Margin; x < 40-Margin; x++ {
		for y := Margin; y < 40-Margin; y++ {
			occupied[cellKey(x, y)] = struct{}{}
		}
	}
	x, y, dir := SafeSpawn(40, occupied, rng)
	assert.Equal(t, Margin, x)
	assert.Equal(t, Margin, y)
	assert.Equal(t, "right", dir)
}

func TestSpawnPowerUpReturnsFalseWhenFull(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	occupied := make(Occupancy)
	for x := Margin; x < 40-Margin; x++ {
		for y := Margin; y < 40-Margin; y++ {
			occupied[cellKey(x, y)] = struct{}{}
		}
	}
	_, _, ok := SpawnPowerUp(40, occupied, rng)
	assert.False(t, ok)
}
