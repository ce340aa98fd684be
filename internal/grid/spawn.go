package grid

import "math/rand"

// Occupancy is anything spawn placement must avoid: obstacles, player
// trails/heads, existing power-ups. Callers build the set fresh per call.
type Occupancy map[string]struct{}

// SafeSpawn samples a uniform cell within the margin, rejecting any cell in
// occupied. Up to 50 attempts; falls back to (Margin, Margin) facing right,
// per spec §4.6. Direction is chosen uniformly over the four cardinals.
func SafeSpawn(gridSize int, occupied Occupancy, rng *rand.Rand) (x, y int, dir string) {
	low := Margin
	high := gridSize - Margin
	if high <= low {
		return Margin, Margin, cardinal(rng)
	}
	for attempt := 0; attempt < 50; attempt++ {
		cx := low + rng.Intn(high-low)
		cy := low + rng.Intn(high-low)
		if _, blocked := occupied[cellKey(cx, cy)]; !blocked {
			return cx, cy, cardinal(rng)
		}
	}
	return Margin, Margin, "right"
}

func cardinal(rng *rand.Rand) string {
	dirs := [4]string{"up", "down", "left", "right"}
	return dirs[rng.Intn(4)]
}

// SpawnPowerUp attempts to place one power-up within the margin, uniformly
// sampled, rejecting cells that collide with occupied. Up to 50 attempts,
// per spec §4.3 step 4. Returns ok=false if no free cell was found.
func SpawnPowerUp(gridSize int, occupied Occupancy, rng *rand.Rand) (x, y int, ok bool) {
	low := Margin
	high := gridSize - Margin
	if high <= low {
		return 0, 0, false
	}
	for attempt := 0; attempt < 50; attempt++ {
		cx := low + rng.Intn(high-low)
		cy := low + rng.Intn(high-low)
		if _, blocked := occupied[cellKey(cx, cy)]; !blocked {
			return cx, cy, true
		}
	}
	return 0, 0, false
}
