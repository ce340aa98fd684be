// Package ai implements the per-tick directional decision for bot players.
// Decide is a pure function of its inputs so bot behavior replays
// deterministically (see spec §9 "AI determinism").
package ai

import (
	"github.com/lightcycle-arena/server/internal/grid"
	"github.com/lightcycle-arena/server/internal/models"
)

// Context is the slice of game state the AI driver needs to score a move.
// It never mutates anything it's given.
type Context struct {
	GridSize  int
	Obstacles map[string]struct{}
	Players   []models.Player
	PowerUps  []models.PowerUp
}

var allDirections = [4]models.Direction{
	models.DirUp, models.DirDown, models.DirLeft, models.DirRight,
}

var deltas = map[models.Direction][2]int{
	models.DirUp:    {0, -1},
	models.DirDown:  {0, 1},
	models.DirLeft:  {-1, 0},
	models.DirRight: {1, 0},
}

// Decide scores all four cardinal directions for the given bot and returns
// the highest-scoring one, falling back to "right" if every direction
// scores equally (including the all-unsafe case).
func Decide(bot *models.Player, ctx Context) models.Direction {
	trailCells := allTrailCells(ctx.Players)

	best := models.DirRight
	bestScore := 0
	found := false

	for _, dir := range allDirections {
		d := deltas[dir]
		nx, ny := bot.X+d[0], bot.Y+d[1]

		score := scoreDirection(bot, dir, nx, ny, ctx, trailCells)
		if !found || score > bestScore {
			bestScore = score
			best = dir
			found = true
		}
	}

	return best
}

func scoreDirection(bot *models.Player, dir models.Direction, nx, ny int, ctx Context, trailCells map[string]struct{}) int {
	if unsafe(nx, ny, ctx.GridSize, ctx.Obstacles, trailCells) {
		return -1000
	}

	score := 0

	safeNeighbors := 0
	for _, d := range deltas {
		lx, ly := nx+d[0], ny+d[1]
		if !unsafe(lx, ly, ctx.GridSize, ctx.Obstacles, trailCells) {
			safeNeighbors++
		}
	}
	if safeNeighbors >= 2 {
		score += 100
	}

	if len(ctx.PowerUps) > 0 {
		p := ctx.PowerUps[0]
		dist := grid.Manhattan(nx, ny, p.X, p.Y)
		if dist < 10 {
			score += (10 - dist) * 5
		}
	}

	center := ctx.GridSize / 2
	score += (ctx.GridSize - grid.Manhattan(nx, ny, center, center)) * 2

	if dir == bot.Direction.Opposite() {
		score -= 50
	}

	return score
}

func unsafe(x, y, gridSize int, obstacles map[string]struct{}, trailCells map[string]struct{}) bool {
	if x < 0 || y < 0 || x >= gridSize || y >= gridSize {
		return true
	}
	key := models.CellKey(x, y)
	if _, ok := obstacles[key]; ok {
		return true
	}
	if _, ok := trailCells[key]; ok {
		return true
	}
	return false
}

func allTrailCells(players []models.Player) map[string]struct{} {
	cells := make(map[string]struct{})
	for _, p := range players {
		if p.Direction == models.DirCrashed {
			continue
		}
		for _, c := range p.Trail {
			cells[c] = struct{}{}
		}
		cells[models.CellKey(p.X, p.Y)] = struct{}{}
	}
	return cells
}
